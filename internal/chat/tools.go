package chat

import "github.com/siteagent/siteagent/internal/llm"

// Tool names dispatched by the chat service.
const (
	toolShopifyOrder   = "get_shopify_order_details"
	toolCalendlyLink   = "create_calendly_meeting_link"
	toolJiraIssue      = "create_jira_issue"
	toolHubspotContact = "create_hubspot_contact"
)

var toolDefinitions = []llm.Tool{
	{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        toolShopifyOrder,
			Description: "Fetch details of a Shopify order (status, fulfillment, etc.) for the store connected to this chatbot.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_name": map[string]any{
						"type":        "string",
						"description": "The Shopify order name or number, e.g. '1001' or '#1001'.",
					},
				},
				"required": []string{"order_name"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        toolCalendlyLink,
			Description: "Generate a single-use Calendly scheduling link for the chatbot owner and return it for embedding.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"event_type_uri": map[string]any{
						"type":        "string",
						"description": "Optional Calendly event type URI to use. If omitted, the first active event type will be used.",
					},
				},
			},
		},
	},
	{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        toolJiraIssue,
			Description: "Create a Jira issue (support ticket) in the project connected to this chatbot.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_key": map[string]any{
						"type":        "string",
						"description": "The Jira project key where the issue should be created, e.g. \"SUP\".",
					},
					"summary": map[string]any{
						"type":        "string",
						"description": "A short summary / title of the issue.",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "Detailed description of the issue.",
					},
				},
				"required": []string{"summary"},
			},
		},
	},
	{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        toolHubspotContact,
			Description: "Create or update a contact in the chatbot owner's connected HubSpot account. You MUST first collect a valid email address (and preferably the user's first and last name) directly from the user before calling this function. Do NOT invent or use placeholder values. If the user has not yet provided these details, ask for them.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"email": map[string]any{
						"type":        "string",
						"description": "Email address of the contact (must be unique).",
					},
					"firstname": map[string]any{
						"type":        "string",
						"description": "First name of the contact.",
					},
					"lastname": map[string]any{
						"type":        "string",
						"description": "Last name of the contact.",
					},
				},
				"required": []string{"email"},
			},
		},
	},
}

// ToolsFor filters the tool set by integration availability. The Shopify
// tool is always passed; the handler reports a connection error on its own
// when the store is not linked.
func ToolsFor(avail Availability) []llm.Tool {
	tools := make([]llm.Tool, 0, len(toolDefinitions))
	for _, tool := range toolDefinitions {
		switch tool.Function.Name {
		case toolHubspotContact:
			if !avail.Hubspot {
				continue
			}
		case toolJiraIssue:
			if !avail.Jira {
				continue
			}
		case toolCalendlyLink:
			if !avail.Calendly {
				continue
			}
		}
		tools = append(tools, tool)
	}
	return tools
}
