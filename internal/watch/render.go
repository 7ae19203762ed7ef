package watch

import (
	"fmt"
	"strings"
)

const maxErrorText = 300

// Render returns the subscriber-facing text for a result. A failed write
// of the new content is always reported, since the next check will then
// see the same difference again.
func Render(res CheckResult) string {
	saveFailed := res.PersistErr != nil
	switch res.Status {
	case StatusFirstObservation:
		if saveFailed {
			return fmt.Sprintf("Checked %s, but the content could not be saved: %s", res.URL, errorText(res.PersistErr))
		}
		return fmt.Sprintf("Checked %s. Content saved for future comparisons.", res.URL)
	case StatusUnchanged:
		return fmt.Sprintf("No changes found for %s.", res.URL)
	case StatusChanged:
		text := fmt.Sprintf("Changes on %s:\n\n%s", res.URL, strings.TrimSpace(res.Summary))
		if saveFailed {
			text += "\n\n" + saveWarning(res.PersistErr)
		}
		return text
	case StatusFetchFailed:
		return fmt.Sprintf("Could not fetch %s: %s", res.URL, errorText(res.Err))
	case StatusSummarizeFailed:
		if saveFailed {
			return fmt.Sprintf("Content changed on %s, but the change summary could not be produced. %s", res.URL, saveWarning(res.PersistErr))
		}
		return fmt.Sprintf("Content changed on %s, but the change summary could not be produced. The new version has been saved.", res.URL)
	default:
		return fmt.Sprintf("Checked %s.", res.URL)
	}
}

func saveWarning(err error) string {
	return fmt.Sprintf("The new version could not be saved (%s), so this change may be reported again.", errorText(err))
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	s := strings.TrimSpace(err.Error())
	if r := []rune(s); len(r) > maxErrorText {
		return string(r[:maxErrorText]) + "…"
	}
	return s
}
