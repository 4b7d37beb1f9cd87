package models

// CSVFileList lists CSV files below the data root.
type CSVFileList struct {
	DataRoot string   `json:"data_root"`
	Files    []string `json:"files"`
}

// CSVPage is one page of rows from a CSV file.
type CSVPage struct {
	File      string              `json:"file"`
	Columns   []string            `json:"columns"`
	TotalRows int                 `json:"total_rows"`
	Offset    int                 `json:"offset"`
	Limit     int                 `json:"limit"`
	Rows      []map[string]string `json:"rows"`
}
