package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSystemPrompt_DefaultWhenNoCustomPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(nil, Availability{})

	assert.True(t, strings.HasPrefix(prompt, GlobalBasePrompt))
	assert.Contains(t, prompt, "User-defined instructions:\n"+DefaultUserPrompt)
	assert.NotContains(t, prompt, "external actions")

	empty := ""
	assert.Equal(t, prompt, BuildSystemPrompt(&empty, Availability{}))
}

func TestBuildSystemPrompt_CustomPromptEmbedded(t *testing.T) {
	custom := "You are the support bot for ACME GmbH."
	prompt := BuildSystemPrompt(&custom, Availability{})

	assert.Contains(t, prompt, "User-defined instructions:\n"+custom+"\n---")
	assert.NotContains(t, prompt, DefaultUserPrompt)
	// The global prompt always comes first, tenants cannot displace it.
	require.True(t, strings.Index(prompt, GlobalBasePrompt) < strings.Index(prompt, custom))
}

func TestBuildSystemPrompt_IntegrationNoteAndGuidelines(t *testing.T) {
	prompt := BuildSystemPrompt(nil, Availability{Hubspot: true, Calendly: true})

	assert.Contains(t, prompt, "This chatbot is able to perform the following external actions: HubSpot, Calendly.")
	assert.Contains(t, prompt, "HubSpot usage guideline:")
	assert.Contains(t, prompt, "Calendly usage guideline:")
	assert.NotContains(t, prompt, "Jira usage guideline:")
}

func TestBuildSystemPrompt_AllIntegrationsListedInFixedOrder(t *testing.T) {
	prompt := BuildSystemPrompt(nil, Availability{Hubspot: true, Jira: true, Calendly: true})

	assert.Contains(t, prompt, "external actions: HubSpot, Jira, Calendly.")
}

func TestBuildSystemMessage_EmbedsContextBlock(t *testing.T) {
	msg := BuildSystemMessage("SYSTEM", "chunk one\n\n---\n\nchunk two")

	assert.True(t, strings.HasPrefix(msg, "SYSTEM\n\n"))
	assert.Contains(t, msg, "---\nchunk one\n\n---\n\nchunk two\n---")
	assert.True(t, strings.HasSuffix(msg, "Conversation History is provided in the subsequent messages."))
}

func TestBuildSystemMessage_NoContextPlaceholder(t *testing.T) {
	msg := BuildSystemMessage("SYSTEM", NoContextFound)

	assert.Contains(t, msg, "---\n"+NoContextFound+"\n---")
}
