package cli

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
)

// RenderTable lays rows out in aligned columns under an underlined header.
func RenderTable(headers []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to lay out table: %w", err)
	}

	header, body, _ := strings.Cut(strings.TrimRight(buf.String(), "\n"), "\n")
	out := TableHeaderStyle.Render(header)
	if body != "" {
		out += "\n" + body
	}
	return out, nil
}
