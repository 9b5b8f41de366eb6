package consult

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/abhisek/doctorai/internal/llm"
)

// PromptConfig holds sampling parameters for one pipeline stage.
type PromptConfig struct {
	Temperature float64
	MaxTokens   int
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

var analysisSystemTemplate = template.Must(template.New("analysis").Funcs(promptFuncs).Parse(
	`You are {{.Profile.Title}}, a meticulous clinician. {{.Profile.Description}}
Specialties: {{join .Profile.Specialties ", "}}.
Tone: {{.Profile.Tone}}.
Default language: English unless the user asks otherwise.

Red-flag checklist. Always check for these and list every one you detect in risk_flags: {{join .Profile.RedFlags ", "}}.

Rules:
- Never provide a definitive medical diagnosis or a prescription.
- When unsure, state your uncertainty explicitly and recommend follow-up with a clinician.
- Ask for missing critical information through the followup questions.
- Respect the user's context, age and comorbidities when provided.
- Reply with a single JSON object containing exactly these keys and no text outside it:
{{range .Fields}}  "{{.Key}}": {{.Guidance}}
{{end}}`))

var verificationSystemTemplate = template.Must(template.New("verification").Funcs(promptFuncs).Parse(
	`You are a safety and quality verifier reviewing a reply written by a {{.Profile.Title}}.
Given the user's question, the agent's JSON output and any image, make the reply safe, clinically humble and compliant with the schema keys exactly.
You have authority to rewrite any field. In particular:
- Replace specific drug dosing with advice to confirm dosing with a clinician or pharmacist.
- Add disclaimers and lower an overconfident confidence value.
- Re-rank differentials by plausibility and keep at most 3.
- Rewrite risk_flags to surface anything from the red-flag checklist the draft missed.
If the content is unsafe or missing, produce conservative guidance with followups.
Return corrected JSON only, with exactly these keys: {{range $i, $f := .Fields}}{{if $i}}, {{end}}{{$f.Key}}{{end}}.`))

var verificationUserTemplate = template.Must(template.New("verification-user").Funcs(promptFuncs).Parse(
	`User question: {{.Question}}
Red-flag checklist: {{join .Profile.RedFlags ", "}}
Agent output JSON: {{.Draft}}`))

type promptData struct {
	Profile  Profile
	Fields   []field
	Question string
	Draft    string
}

// BuildAnalysisRequest composes the first-stage conversation: persona and
// schema contract, prior turns oldest first, then the current question with
// the image attached. At most maxHistory prior turns are included.
func BuildAnalysisRequest(req Request, profile Profile, cfg PromptConfig, maxHistory int) (llm.Request, error) {
	system, err := render(analysisSystemTemplate, promptData{Profile: profile, Fields: answerFields})
	if err != nil {
		return llm.Request{}, err
	}

	var msgs []llm.Message
	for _, turn := range recentTurns(req.History, maxHistory) {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer.Answer},
		)
	}
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleUser,
		Content: req.Question,
		Images:  requestImages(req),
	})

	return llm.Request{
		System:      system,
		Messages:    msgs,
		Schema:      AnswerSchema,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, nil
}

// BuildVerificationRequest composes the second-stage conversation over the
// original question and the full draft.
func BuildVerificationRequest(req Request, profile Profile, draft Answer, cfg PromptConfig) (llm.Request, error) {
	data := promptData{
		Profile:  profile,
		Fields:   answerFields,
		Question: req.Question,
		Draft:    draft.Encode(),
	}
	system, err := render(verificationSystemTemplate, data)
	if err != nil {
		return llm.Request{}, err
	}
	user, err := render(verificationUserTemplate, data)
	if err != nil {
		return llm.Request{}, err
	}

	return llm.Request{
		System: system,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: user, Images: requestImages(req)},
		},
		Schema:      AnswerSchema,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, nil
}

// recentTurns returns the last limit usable turns in chronological order.
// Turns without both a question and an answer text are skipped so roles
// keep alternating.
func recentTurns(history []Turn, limit int) []Turn {
	usable := make([]Turn, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Question) == "" || strings.TrimSpace(t.Answer.Answer) == "" {
			continue
		}
		usable = append(usable, t)
	}
	if limit >= 0 && len(usable) > limit {
		usable = usable[len(usable)-limit:]
	}
	return usable
}

func requestImages(req Request) []llm.Image {
	if !req.HasImage() {
		return nil
	}
	return []llm.Image{llm.NewImage(req.Image.Data, req.Image.Filename, req.Image.MIMEType)}
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
