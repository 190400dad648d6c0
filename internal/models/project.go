package models

// GeneratedFile is one file of a generated code project. FileName is a
// relative path; projects are flat lists of files.
type GeneratedFile struct {
	FileName string `json:"fileName" validate:"required"`
	Code     string `json:"code"`
}
