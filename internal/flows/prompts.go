package flows

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// ProjectStack is the technology stack every generated project targets.
const ProjectStack = "Next.js (App Router), React, TypeScript and Tailwind CSS"

// DefaultSystemInstructions is used unless the caller overrides it.
const DefaultSystemInstructions = `You are Moonlight, an AI assistant. When asked who you are, identify yourself as Moonlight.
You receive the conversation history followed by the user's latest message. Use the history to understand
the latest message, resolve references such as "it" or "that", and keep follow-ups coherent. When you rely on
something said earlier, you may acknowledge it briefly. Be helpful, direct and conversational.`

var codeEnhanceTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage("You turn short software project requests into detailed specifications. "+
		"List pages, components, data models and behaviour the project needs. Reply with the specification text only."),
	schema.UserMessage("Project request:\n{{.input}}"),
)

var imageEnhanceTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage("You rewrite image prompts to be vivid and specific. Add subject detail, composition, lighting, "+
		"style and colour while keeping the user's intent. Reply with the rewritten prompt only."),
	schema.UserMessage("Image prompt:\n{{.input}}"),
)

var codeProjectTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage(`You are Moonlight, an expert software engineer. Generate a complete, working project using {{.stack}}.
Return exactly one JSON object and nothing else:
{"files": [{"fileName": "relative/path.tsx", "code": "full file content"}], "explanation": "how the project works and how to run it"}
Every file needs a relative fileName and its complete code as a string. Include package.json and configuration files.`),
	schema.UserMessage("Request:\n{{.request}}"),
)

const imageRefineInstruction = "Refine the attached image so it matches this description more faithfully. " +
	"Improve detail, lighting and composition, fix artefacts, and keep the subject recognisable.\n\nDescription: "

var chatTemplate = prompt.FromMessages(schema.GoTemplate,
	schema.SystemMessage(`{{.instructions}}

Reply language: {{.language}}. Write the whole reply, including the summary, in this language.
{{if eq .intent "greeting"}}The latest message is a greeting or pleasantry. Reply briefly and warmly in character. Do not call any tools.
{{else if eq .intent "uploaded_image"}}The user attached an image to the latest message. Respond to that image and any accompanying text.{{if .requireImage}} The user explicitly asked for a new or modified image, so call {{.imageTool}} with a descriptive imagePrompt.{{else}} Do not generate a new image.{{end}}{{if .offerSearch}} You may call {{.searchTool}} if outside information helps.{{end}}
{{else if eq .intent "image_request"}}The user asked for a new image. You must call {{.imageTool}} with a descriptive imagePrompt. If the request was only for an image, the summary is a short caption for it, not a statement that you will create it. If it also asked a question, the summary answers that question.
{{else}}Answer the information request.{{if .offerSearch}} Call {{.searchTool}} when you need up-to-date or external facts. When you use it, name the returned source and integrate the content in your own words rather than quoting it.{{end}}{{if .offerImage}} If an illustration would clearly help, you may call {{.imageTool}}.{{end}}
{{end}}{{if .jsonSummary}}The user asked for JSON. The summary value must itself be a valid JSON document, encoded as a string.
{{else}}The summary is plain prose, not JSON.
{{end}}Reply with one JSON object: {"summary": "..."}. Never put image data or links in the reply; generated images are attached for you.`),
	schema.MessagesPlaceholder("history", true),
)
