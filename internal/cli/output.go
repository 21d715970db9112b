package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// printer writes command results as JSON or as aligned text lines.
type printer struct {
	format string
	w      io.Writer
}

type field struct {
	name  string
	value any
}

func (p printer) print(data any, fields ...field) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(p.w, "%-12s %v\n", f.name+":", f.value); err != nil {
			return err
		}
	}
	return nil
}
