package models

// Requests for the admin HTTP endpoints.

type GuardRequest struct {
	Name string `param:"name" validate:"required"`
}

type ForceModeRequest struct {
	Name   string `param:"name" json:"-" validate:"required"`
	Mode   string `json:"mode" validate:"required,guard_mode"`
	Reason string `json:"reason" default:"operator" validate:"max=64"`
}

type JournalRequest struct {
	Name  string `param:"name" validate:"required"`
	Limit int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type ActivateEndpointRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}
