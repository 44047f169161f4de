package models

import (
	"encoding/json"
	"time"
)

// Report is the data-quality profile returned by the analysis service.
type Report struct {
	NameFile     string         `json:"NameFile" msgpack:"nameFile"`
	TotalMaxRows int            `json:"TotalMaxRows" msgpack:"totalMaxRows"`
	TotalColumns int            `json:"TotalColumns" msgpack:"totalColumns"`
	Columns      []ColumnResult `json:"Columns" msgpack:"columns"`
}

// ColumnResult is the per-column section of a report.
type ColumnResult struct {
	Name              string            `json:"name" msgpack:"name"`
	MainType          string            `json:"main_type" msgpack:"mainType"`
	Sensitivity       string            `json:"sensitivity_level,omitempty" msgpack:"sensitivity,omitempty"`
	SensitivityReason string            `json:"sensitivity_reason,omitempty" msgpack:"sensitivityReason,omitempty"`
	SLA               string            `json:"sla,omitempty" msgpack:"sla,omitempty"`
	SLAReason         string            `json:"sla_reason,omitempty" msgpack:"slaReason,omitempty"`
	BlankCount        int               `json:"blank_count" msgpack:"blankCount"`
	CountFilled       int               `json:"count_filled" msgpack:"countFilled"`
	FilledRatio       float64           `json:"filled_ratio" msgpack:"filledRatio"`
	BlankRatio        float64           `json:"blank_ratio" msgpack:"blankRatio"`
	ConsistencyRatio  float64           `json:"consistency_ratio" msgpack:"consistencyRatio"`
	TypeCounts        map[string]int    `json:"type_counts,omitempty" msgpack:"typeCounts,omitempty"`
	Stats             map[string]string `json:"stats,omitempty" msgpack:"stats,omitempty"`
}

// UnmarshalJSON accepts both the profiler field names and the short
// {"file", "columns"} form.
func (r *Report) UnmarshalJSON(data []byte) error {
	type plain Report
	var aux struct {
		plain
		File string `json:"file"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Report(aux.plain)
	if r.NameFile == "" {
		r.NameFile = aux.File
	}
	if r.TotalColumns == 0 {
		r.TotalColumns = len(r.Columns)
	}
	return nil
}

// ReportRecord is a persisted report in the dashboard history.
type ReportRecord struct {
	ID           string    `json:"id" msgpack:"id"`
	JobID        string    `json:"jobId" msgpack:"jobId"`
	FileName     string    `json:"fileName" msgpack:"fileName"`
	TotalRows    int       `json:"totalRows" msgpack:"totalRows"`
	TotalColumns int       `json:"totalColumns" msgpack:"totalColumns"`
	CreatedAt    time.Time `json:"createdAt" msgpack:"createdAt"`
	Report       *Report   `json:"report,omitempty" msgpack:"report,omitempty"`
}

// Summary returns the record without the report body.
func (r *ReportRecord) Summary() *ReportRecord {
	cp := *r
	cp.Report = nil
	return &cp
}
