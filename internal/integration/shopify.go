package integration

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/siteagent/siteagent/internal/models"
)

// ShopifyAPIVersion pins the Admin REST API version used for order lookups.
const ShopifyAPIVersion = "2024-04"

type shopifyOrdersResponse struct {
	Orders []map[string]any `json:"orders"`
}

// ShopifyOrderDetails looks up an order by name in the store connected to
// the chatbot's owner. The response is stripped to the essentials to keep
// tool results small.
func (h *Handlers) ShopifyOrderDetails(ctx context.Context, chatbotID uuid.UUID, orderName string) map[string]any {
	if orderName == "" {
		return errContent("Missing order name.")
	}

	token, metadata, err := h.ownerToken(ctx, chatbotID, models.ServiceShopify)
	if err != nil {
		return errContent("Shopify not connected for this chatbot.")
	}
	shopDomain := metadata["shop"]
	if shopDomain == "" {
		return errContent("Incomplete Shopify credentials.")
	}

	// Customers often paste "#1001"; the API wants the bare name.
	normalized := strings.TrimSpace(strings.TrimPrefix(orderName, "#"))

	apiURL := fmt.Sprintf("https://%s/admin/api/%s/orders.json?name=%s&status=any",
		shopDomain, ShopifyAPIVersion, url.QueryEscape(normalized))

	var resp shopifyOrdersResponse
	err = h.getJSON(ctx, apiURL, map[string]string{"X-Shopify-Access-Token": token}, &resp)
	if err != nil {
		return errContent("Shopify API request failed.")
	}
	if len(resp.Orders) == 0 {
		return errContent(fmt.Sprintf("Order '%s' not found.", orderName))
	}

	return map[string]any{"data": minimalOrder(resp.Orders[0])}
}

// minimalOrder projects an order down to the fields worth spending model
// tokens on.
func minimalOrder(order map[string]any) map[string]any {
	minimal := map[string]any{}
	for _, key := range []string{
		"id", "name", "created_at", "financial_status", "fulfillment_status",
		"total_price", "currency", "order_status_url",
	} {
		if v, ok := order[key]; ok {
			minimal[key] = v
		}
	}

	if customer, ok := order["customer"].(map[string]any); ok {
		minimal["customer"] = pickFields(customer, "first_name", "last_name", "email")
	}
	if addr, ok := order["shipping_address"].(map[string]any); ok {
		minimal["shipping_address"] = pickFields(addr, "address1", "city", "province", "country", "zip")
	}
	return minimal
}

func pickFields(src map[string]any, keys ...string) map[string]any {
	out := map[string]any{}
	for _, key := range keys {
		if v, ok := src[key]; ok {
			out[key] = v
		}
	}
	return out
}
