package executor

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
)

// Render writes the result as a table, or the error kind and message.
func (r *Result) Render(w io.Writer) {
	if !r.Success {
		fmt.Fprintf(w, "Error (%s): %v\n", r.ErrorKind, r.Error)
		return
	}
	if len(r.Columns) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader(r.Columns)
		table.SetAutoFormatHeaders(false)
		for _, row := range r.Rows {
			table.Append(row)
		}
		table.Render()
	}
	fmt.Fprintf(w, "%d row(s) (%s)\n", r.Count, r.ExecutionTime)
}

// formatBytes shows printable keys and values as text, anything else as hex.
func formatBytes(b []byte) string {
	if b == nil {
		return "NULL"
	}
	if utf8.Valid(b) {
		printable := true
		for _, r := range string(b) {
			if !unicode.IsPrint(r) {
				printable = false
				break
			}
		}
		if printable {
			return string(b)
		}
	}
	return "0x" + hex.EncodeToString(b)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
