package transaction

import (
	"log/slog"
	"time"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
)

// View is the JSON shape of a transaction returned by the API.
type View struct {
	ID         string              `json:"id"`
	Kind       Kind                `json:"kind"`
	TokenKey   customizer.TokenKey `json:"tokenKey"`
	UseCase    customizer.UseCase  `json:"useCase,omitempty"`
	State      string              `json:"state"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	DurationMS int64               `json:"durationMs"`
	Logs       []LogLine           `json:"logs,omitempty"`
}

// LogLine is one captured log record.
type LogLine struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// View renders the transaction. Captured logs are included when withLogs is set.
func (tx *Transaction) View(withLogs bool) View {
	v := View{
		ID:         tx.ID.String(),
		Kind:       tx.Kind,
		TokenKey:   tx.TokenKey,
		UseCase:    tx.UseCase,
		State:      tx.GetState(),
		CreatedAt:  tx.CreatedAt,
		DurationMS: tx.Duration().Milliseconds(),
	}
	if err := tx.Err(); err != nil {
		v.Error = err.Error()
	}
	if !withLogs {
		return v
	}
	for _, rec := range tx.GetLogs() {
		line := LogLine{
			Time:    rec.Time,
			Level:   rec.Level.String(),
			Message: rec.Message,
		}
		if len(rec.Attrs) > 0 {
			line.Attrs = make(map[string]any, len(rec.Attrs))
			flattenAttrs(line.Attrs, "", rec.Attrs)
		}
		v.Logs = append(v.Logs, line)
	}
	return v
}

func flattenAttrs(dst map[string]any, prefix string, attrs []slog.Attr) {
	for _, a := range attrs {
		val := a.Value.Resolve()
		key := prefix + a.Key
		if val.Kind() == slog.KindGroup {
			flattenAttrs(dst, key+".", val.Group())
			continue
		}
		switch val.Kind() {
		case slog.KindAny:
			if err, ok := val.Any().(error); ok {
				dst[key] = err.Error()
				continue
			}
			dst[key] = val.String()
		default:
			dst[key] = val.Any()
		}
	}
}
