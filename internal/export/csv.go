// Package export renders room prediction history as CSV and archives it to
// blob storage.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"foresight/internal/core"
	"foresight/pkg/domain"
)

// Header is the first row of every export.
var Header = []string{
	"question_id", "question_title", "question_state", "resolution",
	"user_id", "nickname", "timestamp", "distribution_kind", "distribution_params",
}

// WriteCSV writes a header row followed by one row per prediction. Fields
// with quotes, commas or line breaks are quoted with inner quotes doubled.
func WriteCSV(w io.Writer, data core.RoomExport) error {
	questions := make(map[string]domain.Question, len(data.Questions))
	for _, q := range data.Questions {
		questions[q.ID] = q
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, p := range data.Predictions {
		q := questions[p.Question.ID]
		row := []string{
			p.Question.ID,
			q.Title,
			string(q.State),
			formatResolution(q.Resolution),
			p.User.ID,
			data.Nicknames[p.User.ID],
			p.Timestamp.UTC().Format(time.RFC3339Nano),
			p.Distribution.Kind,
			formatParams(p.Distribution.Params),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatResolution(r *domain.Resolution) string {
	switch {
	case r == nil:
		return ""
	case r.Ambiguous:
		return "ambiguous"
	case r.Value != nil:
		return strconv.FormatFloat(*r.Value, 'g', -1, 64)
	}
	return ""
}

func formatParams(params []float64) string {
	parts := make([]string, len(params))
	for i, v := range params {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ";")
}
