package rag

import "github.com/xhad/aibots/internal/models"

// DemoDocuments returns the fixed document set used by ingest, ask and serve.
func DemoDocuments() []models.Document {
	return []models.Document{
		{
			ID:       "acme-returns",
			Title:    "Returns policy",
			Content:  "Acme Inc. returns policy: customers can return items within 30 days of purchase with receipt.",
			Metadata: map[string]string{"source": "demo"},
		},
		{
			ID:       "acme-support",
			Title:    "Support hours",
			Content:  "Acme Inc. support hours are 9am-6pm Monday through Friday.",
			Metadata: map[string]string{"source": "demo"},
		},
		{
			ID:       "product-x-pricing",
			Title:    "Product X pricing",
			Content:  "Pricing for product X: $49 per seat per month, discounts available for annual billing.",
			Metadata: map[string]string{"source": "demo"},
		},
	}
}
