// Package prompts holds the instructions sent to the text models.
package prompts

import (
	"fmt"
	"strings"
)

// FusionInstruction asks the model to merge a new behaviour narrative into the stored one,
// keeping about retention of the old content.
func FusionInstruction(retention float64) string {
	return fmt.Sprintf(`You maintain short customer profile descriptions for an online shop of local products.
You receive the current description of a customer's browsing, ordering and chat behaviour and a description of new behaviour.
Update the current description with the new one. Keep it concise, at most 3 sentences, for example:

The customer likes dark coffee and mostly orders it through the website. They value organic and traditional production
and spend most of their browsing time on producer pages.

Keep around %.0f%% of the content of the current description.
Answer with the updated description only.`, retention*100)
}

// FusionInput renders the two narratives as the user message of a fusion request.
func FusionInput(old, incoming string) string {
	return "The current description: " + old + "\n\nThe new description: " + incoming
}

// ShoppingPatternInstruction asks for an embedding-friendly summary of raw activity text.
func ShoppingPatternInstruction(tasteKeys []string) string {
	return fmt.Sprintf(
		"Write a brief summary of the customer's shopping pattern. "+
			"Say which of these categories fit them: %s. "+
			"The summary is used to compute an embedding vector, so keep it rich in information and free of boilerplate.",
		strings.Join(tasteKeys, ", "))
}
