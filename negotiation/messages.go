package negotiation

import (
	"fmt"
	"sort"
	"strings"
)

// Outbound message templates. These are deliberately plain strings; the
// engine owns no localization concern beyond the pattern tables.

func offerMessage(terms Terms, theirResourceRef string) string {
	return fmt.Sprintf(
		"Hey! Want to swap engagement? You give my content %s and I'll do the same for %s. Deal?",
		FormatAgreedTerms(terms), theirResourceRef)
}

func counterMessage(terms Terms) string {
	return fmt.Sprintf("That's a bit steep for me. How about %s? That works on my end.", FormatAgreedTerms(terms))
}

func finalOfferMessage(terms Terms) string {
	return fmt.Sprintf(
		"Last offer: %s, take it or leave it. If that works say yes and we'll start right away.",
		FormatAgreedTerms(terms))
}

func rePromptMessage(terms Terms) string {
	return fmt.Sprintf(
		"Just checking in - are you up for trading %s? A quick yes or no is fine.",
		FormatAgreedTerms(terms))
}

func agreedMessage(terms Terms) string {
	return fmt.Sprintf("Deal! %s each. I'll start on my side now and ping you when I'm done.", FormatAgreedTerms(terms))
}

func executionDoneMessage(results ExecutionResults, terms Terms) string {
	doneList := completedObligations(results)
	if doneList == "" {
		doneList = "my part"
	}
	return fmt.Sprintf(
		"My side is done: %s. Your turn now - %s on my content, then reply 'done'.",
		doneList, FormatAgreedTerms(terms))
}

func reminderMessage(terms Terms) string {
	return fmt.Sprintf(
		"Friendly reminder: still waiting on your side (%s). Reply 'done' once you've finished.",
		FormatAgreedTerms(terms))
}

func completedThanksMessage() string {
	return "All settled, thanks! Happy to trade again anytime."
}

func declineAckMessage() string {
	return "No worries, thanks for letting me know. Good luck out there!"
}

func completedObligations(results ExecutionResults) string {
	done := make([]string, 0, len(results))
	for obligation, ok := range results {
		if ok {
			done = append(done, obligation)
		}
	}
	sort.Strings(done)
	return strings.Join(done, ", ")
}
