package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"moonlight/internal/llm"
	"moonlight/internal/logging"
	"moonlight/internal/models"
	"moonlight/internal/validate"

	"github.com/cloudwego/eino/components/model"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var ErrEmptyRequest = errors.New("request must not be empty")

const (
	errorFileName  = "error.txt"
	legacyFileName = "project.txt"
)

// ModelResolver returns the chat model for a catalog id ("" selects the default).
type ModelResolver interface {
	Resolve(ctx context.Context, id string) (model.ToolCallingChatModel, error)
}

type CodeProjectInput struct {
	Request        string `json:"request"`
	EnhanceRequest bool   `json:"enhanceRequest,omitempty"`
	Model          string `json:"model,omitempty"`
}

type CodeProjectOutput struct {
	Files       []models.GeneratedFile `json:"files" validate:"required,min=1,dive"`
	Explanation string                 `json:"explanation"`
}

// CodeFlow generates multi-file projects. Top-level shape problems degrade to
// a single error.txt file; a file entry with non-string fields is an error.
type CodeFlow struct {
	models   ModelResolver
	enhancer enhancer
	logger   *zap.Logger
}

func NewCodeFlow(resolver ModelResolver, logger *zap.Logger) *CodeFlow {
	logger = logger.Named("flows.code")
	return &CodeFlow{models: resolver, enhancer: enhancer{logger: logger}, logger: logger}
}

func (f *CodeFlow) GenerateCodeProject(ctx context.Context, in CodeProjectInput) (*CodeProjectOutput, error) {
	defer logging.Duration(ctx, f.logger, "GenerateCodeProject")()

	request := strings.TrimSpace(in.Request)
	if request == "" {
		return nil, ErrEmptyRequest
	}

	cm, err := f.models.Resolve(ctx, in.Model)
	if err != nil {
		if errors.Is(err, llm.ErrUnknownModel) {
			return nil, err
		}
		f.logger.Error("resolve model failed", zap.Error(err))
		return degradedProject(request, "", "", err.Error()), nil
	}

	enhanced := ""
	prompt := request
	if in.EnhanceRequest {
		enhanced = f.enhancer.enhance(ctx, cm, codeEnhanceTemplate, request)
		prompt = enhanced
	}

	msgs, err := codeProjectTemplate.Format(ctx, map[string]any{
		"stack":   ProjectStack,
		"request": prompt,
	})
	if err != nil {
		return degradedProject(request, enhanced, "", err.Error()), nil
	}
	resp, err := cm.Generate(ctx, msgs)
	if err != nil {
		f.logger.Error("code generation call failed", zap.Error(err))
		return degradedProject(request, enhanced, "", err.Error()), nil
	}

	raw := ""
	if resp != nil {
		raw = resp.Content
	}
	res := parseCodeProject(raw)
	switch res.Violation {
	case validate.None:
		return &res.Value, nil
	case validate.LegacyBlob:
		f.logger.Info("wrapping legacy single-blob project output")
		return &res.Value, nil
	case validate.FieldType:
		return nil, res.Err()
	default:
		f.logger.Warn("code generation output rejected",
			zap.String("violation", string(res.Violation)), zap.String("detail", res.Detail))
		return degradedProject(request, enhanced, partialExplanation(raw), res.Detail), nil
	}
}

// parseCodeProject validates raw model output against the project shape.
func parseCodeProject(raw string) validate.Result[CodeProjectOutput] {
	objRes := validate.Object(raw)
	if !objRes.OK() {
		return validate.Failed[CodeProjectOutput](objRes)
	}
	obj := objRes.Value
	explanation := obj.Get("explanation").String()

	files := obj.Get("files")
	if !files.Exists() || files.Type == gjson.Null {
		if blob := obj.Get("projectCode"); blob.Type == gjson.String {
			return validate.Result[CodeProjectOutput]{
				Value: CodeProjectOutput{
					Files:       []models.GeneratedFile{{FileName: legacyFileName, Code: blob.Str}},
					Explanation: explanation,
				},
				Violation: validate.LegacyBlob,
				Detail:    "projectCode returned instead of files",
			}
		}
		return validate.Fail[CodeProjectOutput](validate.MissingField, "files is missing")
	}
	if !files.IsArray() {
		return validate.Fail[CodeProjectOutput](validate.WrongType, "files must be an array, got %s", files.Type)
	}
	items := files.Array()
	if len(items) == 0 {
		return validate.Fail[CodeProjectOutput](validate.EmptyArray, "files is empty")
	}

	out := CodeProjectOutput{Explanation: explanation, Files: make([]models.GeneratedFile, 0, len(items))}
	for i, item := range items {
		name := validate.StringField(item, "fileName")
		if !name.OK() {
			return validate.Fail[CodeProjectOutput](validate.FieldType, "files[%d].fileName: %s", i, name.Detail)
		}
		code := validate.StringField(item, "code")
		if !code.OK() {
			return validate.Fail[CodeProjectOutput](validate.FieldType, "files[%d].code: %s", i, code.Detail)
		}
		out.Files = append(out.Files, models.GeneratedFile{FileName: name.Value, Code: code.Value})
	}
	if err := validate.Struct(out); err != nil {
		return validate.Fail[CodeProjectOutput](validate.FieldType, "%v", err)
	}
	return validate.Ok(out)
}

func partialExplanation(raw string) string {
	if doc, ok := validate.ExtractJSON(raw); ok {
		if v := gjson.Get(doc, "explanation"); v.Type == gjson.String {
			return v.Str
		}
	}
	return ""
}

func degradedProject(request, enhanced, partial, reason string) *CodeProjectOutput {
	var b strings.Builder
	b.WriteString("Code generation did not return a usable project.\n\n")
	fmt.Fprintf(&b, "Original request:\n%s\n\n", request)
	if enhanced != "" {
		fmt.Fprintf(&b, "Enhanced request:\n%s\n\n", enhanced)
	} else {
		b.WriteString("Enhanced request:\n(not enhanced)\n\n")
	}
	if reason != "" {
		fmt.Fprintf(&b, "Reason:\n%s\n\n", reason)
	}
	if partial != "" {
		fmt.Fprintf(&b, "Partial explanation from the model:\n%s\n", partial)
	}

	explanation := "The AI could not generate the project files for this request. Try rephrasing it or try again."
	if partial != "" {
		explanation += "\n\n" + partial
	}
	return &CodeProjectOutput{
		Files:       []models.GeneratedFile{{FileName: errorFileName, Code: b.String()}},
		Explanation: explanation,
	}
}
