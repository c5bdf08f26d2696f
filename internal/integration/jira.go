package integration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/models"
)

const jiraAPIBase = "https://api.atlassian.com/ex/jira"

type jiraProject struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type jiraProjectSearchResponse struct {
	Values []jiraProject `json:"values"`
}

type jiraIssueType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type jiraIssueTypesResponse struct {
	IssueTypes []jiraIssueType `json:"issueTypes"`
}

type jiraCreateIssueResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// JiraCreateIssue files an issue in the owner's connected Jira site. With
// no project key supplied it falls back to the first accessible project,
// and the issue type falls back to the project's first available type.
func (h *Handlers) JiraCreateIssue(ctx context.Context, chatbotID uuid.UUID, projectKey, summary, description string) map[string]any {
	if summary == "" {
		return map[string]any{"status": "error", "error_message": "summary required."}
	}

	token, metadata, err := h.ownerToken(ctx, chatbotID, models.ServiceJira)
	if err != nil {
		return map[string]any{"status": "error", "error_message": "Jira not connected for chatbot owner."}
	}
	cloudID := metadata["cloud_id"]
	if cloudID == "" {
		return map[string]any{"status": "error", "error_message": "Jira cloud ID missing."}
	}

	auth := map[string]string{"Authorization": "Bearer " + token}
	base := fmt.Sprintf("%s/%s/rest/api/3", jiraAPIBase, cloudID)

	project := h.resolveJiraProject(ctx, base, auth, projectKey)
	if project == nil {
		return map[string]any{"status": "error", "error_message": "No Jira project available."}
	}

	issueType := h.resolveJiraIssueType(ctx, base, auth, project)

	fields := map[string]any{
		"project":     map[string]any{"key": project.Key, "id": project.ID},
		"summary":     summary,
		"description": adfParagraph(description),
	}
	if issueType != nil {
		fields["issuetype"] = map[string]any{"id": issueType.ID, "name": issueType.Name}
	} else {
		fields["issuetype"] = map[string]any{"name": "Task"}
	}

	var created jiraCreateIssueResponse
	err = h.doJSON(ctx, "POST", base+"/issue", auth, map[string]any{"fields": fields}, &created)
	if err != nil {
		return map[string]any{"status": "error", "error_message": "Jira API request failed."}
	}

	data := map[string]any{"id": created.ID, "key": created.Key, "self": created.Self}
	if siteURL := metadata["site_url"]; siteURL != "" && created.Key != "" {
		data["browseUrl"] = siteURL + "/browse/" + created.Key
	}
	return map[string]any{"status": "success", "data": data}
}

func (h *Handlers) resolveJiraProject(ctx context.Context, base string, auth map[string]string, projectKey string) *jiraProject {
	if projectKey != "" {
		var p jiraProject
		if err := h.getJSON(ctx, base+"/project/"+projectKey, auth, &p); err == nil && p.Key != "" {
			return &p
		}
		log.Warn().Str("project_key", projectKey).Msg("Jira project lookup failed, falling back to first accessible project")
	}

	var search jiraProjectSearchResponse
	if err := h.getJSON(ctx, base+"/project/search", auth, &search); err == nil && len(search.Values) > 0 {
		return &search.Values[0]
	}

	// Older deployments expose the unpaginated listing only.
	var list []jiraProject
	if err := h.getJSON(ctx, base+"/project", auth, &list); err == nil && len(list) > 0 {
		return &list[0]
	}
	return nil
}

func (h *Handlers) resolveJiraIssueType(ctx context.Context, base string, auth map[string]string, project *jiraProject) *jiraIssueType {
	if project.ID == "" {
		return nil
	}
	var resp jiraIssueTypesResponse
	err := h.getJSON(ctx, base+"/issuetype/project?projectId="+project.ID, auth, &resp)
	if err != nil || len(resp.IssueTypes) == 0 {
		return nil
	}
	return &resp.IssueTypes[0]
}

// adfParagraph wraps plain text in the minimal Atlassian Document Format
// the issue API requires.
func adfParagraph(text string) map[string]any {
	content := []any{}
	if text != "" {
		content = append(content, map[string]any{
			"type": "paragraph",
			"content": []any{
				map[string]any{"type": "text", "text": text},
			},
		})
	} else {
		content = append(content, map[string]any{"type": "paragraph", "content": []any{}})
	}

	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
}
