package models

// Requests for detection HTTP endpoints. Defined in domain for consistency and reuse.

type EventsRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
}

type BarsRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
	TF         string `query:"tf" json:"tf" default:"M15" validate:"oneof=M1 M5 M15 H1 H4 D1"`
	Limit      int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}

type ArchiveRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"required"`
	TF         string `query:"tf" json:"tf" default:"M15" validate:"oneof=M1 M5 M15 H1 H4 D1"`
	From       string `query:"from" json:"from"`
	To         string `query:"to" json:"to"`
	Limit      int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type PushBarRequest struct {
	Instrument string  `json:"instrument" validate:"required"`
	TF         string  `json:"tf" validate:"required,oneof=M1 M5 M15 H1 H4 D1"`
	T          int64   `json:"t" validate:"required,gt=0"`
	O          float64 `json:"o" validate:"required"`
	H          float64 `json:"h" validate:"required"`
	L          float64 `json:"l" validate:"required"`
	C          float64 `json:"c" validate:"required"`
	V          float64 `json:"v" validate:"gte=0"`
}
