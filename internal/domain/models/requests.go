package models

// Requests for the fraud monitor HTTP endpoints. Defined in domain for consistency and reuse.

type SeedHistoryRequest struct {
	Transactions []Transaction `json:"transactions" validate:"max=1000"`
}

type RecentAnalysisRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=50"`
}

type CSVFilesRequest struct {
	Subdir string `query:"subdir" json:"subdir"`
}

type CSVPageRequest struct {
	RelPath string `query:"rel_path" json:"rel_path" validate:"required"`
	Offset  int    `query:"offset" json:"offset" validate:"gte=0"`
	Limit   int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

type ChatRequest struct {
	Message string                 `json:"message" validate:"max=4000"`
	Context map[string]interface{} `json:"context"`
}

type ChatResponse struct {
	ID    string `json:"id"`
	Reply string `json:"reply"`
}
