package chat

import "strings"

// GlobalBasePrompt is prepended to every chatbot's system prompt. Tenants
// cannot override or remove it.
const GlobalBasePrompt = `Always provide helpful, polite, and accurate responses based only on the information and tools provided.
Approach each question or task with logical reasoning, breaking down complex problems into steps if needed. Use any provided data to perform simple calculations or comparisons when appropriate, but only if the context clearly supports it.
Anticipate what logically follows from the user's query or scenario, and when appropriate, offer additional relevant guidance or information even if it wasn't explicitly requested.
If a question cannot be answered using the provided information, clearly admit that you do not know or cannot answer. Do not guess or provide information that isn't supported by the context.
Maintain a polite and respectful tone at all times. Do not adopt any specific persona or style beyond what the user's instructions specify.
Use only the knowledge and resources provided (via the conversation context or authorized tools). Do not use outside information, and do not attempt any web searches or external data retrieval.
When providing Google Maps links, always use the format "https://maps.google.com/maps?q=" followed by the location or address. Never use embedded map URLs or iframe-style Google Maps links.`

// DefaultUserPrompt is used when a chatbot has no custom system prompt.
const DefaultUserPrompt = "You are a helpful AI assistant. Answer based only on the provided context."

// ContextSeparator joins retrieved chunks in the context block.
const ContextSeparator = "\n\n---\n\n"

// NoContextFound stands in for the context block when retrieval and the
// keyword fallback both come back empty.
const NoContextFound = "No relevant context found in documents."

const hubspotGuideline = "\n\nHubSpot usage guideline: before calling \"create_hubspot_contact\" you must have a valid user email address (and, if possible, their first and last name). If this information has not yet been provided in the conversation, politely ask the user for it instead of guessing or using placeholder values."

const jiraGuideline = "\n\nJira usage guideline: only call \"create_jira_issue\" after you have collected a clear issue summary (and optional description) from the user."

const calendlyGuideline = "\n\nCalendly usage guideline: you may call \"create_calendly_meeting_link\" when the user explicitly requests to book a meeting. The \"event_type_uri\" parameter is optional."

const answerInstructions = `You are an AI assistant answering the LATEST user question. Your primary goal is to use the "Conversation History" (if provided below) and the "Context from documents" (also provided below) to understand the full dialogue and provide a comprehensive and contextually relevant answer to the LATEST user question. Always refer to the "Conversation History" to understand references to previous topics (e.g., if the user says 'it' or 'that', determine what 'it' or 'that' refers to from the history).

First, review the "User-defined instructions", "integration notes", and "integration guidelines" provided earlier in this system prompt. These sections contain specific data, rules, tool usage guidelines, and examples for this particular chatbot. If the answer to the user's LATEST question is found within these primary instructions, prioritize it. This includes deciding if a tool/integration should be used based on its guidelines.

If these primary instructions do not provide a direct answer, then use both the "Context from documents" and the full "Conversation History" to formulate your response to the LATEST user question. If no source (primary instructions, documents, or history) provides a sufficient answer, clearly state that you cannot answer based on the provided information. Do not make up information or answer based on prior knowledge outside of these provided sources.

Context from documents (for the LATEST user question, use in conjunction with Conversation History):
---
%s
---
Conversation History is provided in the subsequent messages.`

// Availability reports which gated integrations a chatbot may use this
// turn: the per-chatbot toggle must be on AND the owner must have a
// stored token for the service.
type Availability struct {
	Hubspot  bool
	Jira     bool
	Calendly bool
}

// BuildSystemPrompt layers the global base prompt, the tenant's custom
// instructions and the integration notes into one system prompt. The
// global prompt always comes first.
func BuildSystemPrompt(custom *string, avail Availability) string {
	userPrompt := DefaultUserPrompt
	if custom != nil && *custom != "" {
		userPrompt = *custom
	}

	var b strings.Builder
	b.WriteString(GlobalBasePrompt)
	b.WriteString("\n\n---\n\nUser-defined instructions:\n")
	b.WriteString(userPrompt)
	b.WriteString("\n---")

	var enabled []string
	if avail.Hubspot {
		enabled = append(enabled, "HubSpot")
	}
	if avail.Jira {
		enabled = append(enabled, "Jira")
	}
	if avail.Calendly {
		enabled = append(enabled, "Calendly")
	}
	if len(enabled) > 0 {
		b.WriteString("\n\nThis chatbot is able to perform the following external actions: ")
		b.WriteString(strings.Join(enabled, ", "))
		b.WriteString(".")
	}

	if avail.Hubspot {
		b.WriteString(hubspotGuideline)
	}
	if avail.Jira {
		b.WriteString(jiraGuideline)
	}
	if avail.Calendly {
		b.WriteString(calendlyGuideline)
	}
	return b.String()
}

// BuildSystemMessage appends the answering instructions and the retrieved
// context block to the assembled system prompt.
func BuildSystemMessage(systemPrompt, contextText string) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	b.WriteString(strings.Replace(answerInstructions, "%s", contextText, 1))
	return b.String()
}
