package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cantrace/backend/internal/models"
	"github.com/cantrace/backend/internal/parser"
	"github.com/cantrace/backend/internal/upload"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// filterOptions are the criteria and output flags shared by filter and watch.
type filterOptions struct {
	port        string
	address     string
	objectIndex string
	subIndex    string
	types       []string
	encoding    string
	raw         bool
	stats       bool
	errors      bool
}

func (o *filterOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.port, "port", "", "capture ports to keep, e.g. \"PORT1 PORT2\"")
	f.StringVar(&o.address, "address", "", "node addresses to keep (hex)")
	f.StringVar(&o.objectIndex, "object-index", "", "SDO object indices to keep (hex, high byte first)")
	f.StringVar(&o.subIndex, "sub-index", "", "SDO subindices to keep (hex)")
	f.StringArrayVar(&o.types, "type", nil, "packet type to keep; repeatable")
	f.StringVar(&o.encoding, "encoding", "",
		fmt.Sprintf("input encoding: none, %s (default: from the file extension)", strings.Join(upload.Encodings(), ", ")))
	f.BoolVar(&o.raw, "raw", false, "keep CR line terminators")
	f.BoolVar(&o.stats, "stats", false, "print counters to stderr")
	f.BoolVar(&o.errors, "errors", false, "print malformed lines to stderr")
}

func (o *filterOptions) criteria() (models.FilterCriteria, error) {
	c := models.FilterCriteria{
		Ports:         nonEmpty(o.port),
		Addresses:     nonEmpty(o.address),
		ObjectIndices: nonEmpty(o.objectIndex),
		SubIndices:    nonEmpty(o.subIndex),
	}
	for _, name := range o.types {
		t, ok := models.ParsePacketType(name)
		if !ok {
			return c, errors.Wrapf(parser.ErrUnknownPacketType, "%q", name)
		}
		c.Types = append(c.Types, t)
	}
	return c, nil
}

func nonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []string{s}
}

// readTrace loads a trace file, decoding it when compressed.
func (o *filterOptions) readTrace(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := o.encoding
	if enc == "" {
		enc = upload.EncodingForPath(path)
	}
	r, err := upload.NewDecoder(enc, f)
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	return string(data), nil
}

func (o *filterOptions) writeResult(stdout, stderr io.Writer, r parser.Result) error {
	text := r.Text
	if !o.raw {
		text = strings.ReplaceAll(text, "\r", "\n")
	}
	if _, err := io.WriteString(stdout, text); err != nil {
		return err
	}
	if o.errors {
		for _, e := range r.Errors {
			fmt.Fprintf(stderr, "line %d: %s: %q\n", e.Line, e.Reason, e.Content)
		}
	}
	if o.stats {
		fmt.Fprintf(stderr, "layout=%s total=%d matched=%d malformed=%d\n",
			r.Layout, r.Total, r.Matched, r.Malformed)
	}
	return nil
}

func newFilterCommand() *cobra.Command {
	opts := &filterOptions{}
	cmd := &cobra.Command{
		Use:   "filter FILE",
		Short: "Print the lines of a trace file that match the criteria",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.criteria()
			if err != nil {
				return err
			}
			text, err := opts.readTrace(args[0])
			if err != nil {
				return err
			}
			r, err := parser.Filter(text, c)
			if err != nil {
				return err
			}
			return opts.writeResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), r)
		},
	}
	opts.bind(cmd)
	return cmd
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List CANopen packet types and their function codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, t := range models.AllPacketTypes() {
				code, _ := t.FunctionCode()
				fmt.Fprintf(out, "%-10s 0x%03X\n", t, code)
			}
			return nil
		},
	}
}
