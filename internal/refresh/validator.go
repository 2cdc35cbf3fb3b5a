package refresh

import (
	"github.com/nexconsult/cookie-refresher/internal/models"
)

// Extract selects the required cookies from the jar. A cookie only fills
// a slot when both its name and domain match exactly; the first match wins.
// The result follows the order of required. When any slot stays empty the
// returned *MissingCookiesError lists the absent names in that same order.
func Extract(jar []models.SessionCookie, required models.RequiredCookieSet) ([]models.SessionCookie, error) {
	index := make(map[models.CookieKey]int, len(required))
	for i, r := range required {
		index[models.CookieKey{Name: r.Name, Domain: r.Domain}] = i
	}

	slots := make([]*models.SessionCookie, len(required))
	for i := range jar {
		slot, ok := index[jar[i].Key()]
		if ok && slots[slot] == nil {
			slots[slot] = &jar[i]
		}
	}

	var missing []string
	cookies := make([]models.SessionCookie, 0, len(required))
	for i, c := range slots {
		if c == nil {
			missing = append(missing, required[i].Name)
			continue
		}
		cookies = append(cookies, *c)
	}

	if len(missing) > 0 {
		return nil, &MissingCookiesError{Names: missing}
	}
	return cookies, nil
}
