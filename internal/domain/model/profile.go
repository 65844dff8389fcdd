package model

import "strings"

// Profile is the slice of the external identity record used for labels.
type Profile struct {
	ID          string
	DisplayName string
	FullName    string
	Name        string
	Phone       string
}

// Label picks the first non-blank of display name, full name, name, phone,
// and finally the id.
func (p Profile) Label() string {
	for _, s := range []string{p.DisplayName, p.FullName, p.Name, p.Phone} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return p.ID
}
