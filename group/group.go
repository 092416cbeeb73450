// Package group manages named groups of people, the fan-out lists used to
// broadcast news items.
package group

import (
	"fmt"
	"net/mail"
	"sort"

	"github.com/opd-ai/imapsn/document"
	"github.com/sirupsen/logrus"
)

// Path is the groups document path.
const Path = "/person-groups.json"

// DefaultGroup receives every new friend.
const DefaultGroup = "everybody"

// Member is one person in a group.
type Member struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Address renders the member as a mail address.
func (m Member) Address() string {
	return (&mail.Address{Name: m.DisplayName, Address: m.Email}).String()
}

// Groups is the account's group document.
type Groups struct {
	doc *document.Versioned[map[string][]Member]
}

// Load reads the groups from store, or starts with none.
func Load(store document.Store, newID func() string) (*Groups, error) {
	doc, err := document.Load(store, Path, newID, func() map[string][]Member {
		return map[string][]Member{}
	})
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	return &Groups{doc: doc}, nil
}

// Append adds m to group, creating the group if needed. It reports false when
// a member with the same id is already present.
func (g *Groups) Append(group string, m Member) (bool, error) {
	if _, err := mail.ParseAddress(m.Email); err != nil {
		return false, fmt.Errorf("append to group %s: invalid email %q: %w", group, m.Email, err)
	}
	for _, existing := range g.doc.Data[group] {
		if existing.ID == m.ID {
			return false, nil
		}
	}
	g.doc.Data[group] = append(g.doc.Data[group], m)

	logrus.WithFields(logrus.Fields{
		"function":  "Append",
		"package":   "group",
		"group":     group,
		"person_id": m.ID,
	}).Debug("Added group member")
	return true, nil
}

// Remove deletes the member with personID from group.
func (g *Groups) Remove(group, personID string) bool {
	members := g.doc.Data[group]
	for i, m := range members {
		if m.ID == personID {
			g.doc.Data[group] = append(members[:i:i], members[i+1:]...)
			return true
		}
	}
	return false
}

// Members returns a copy of the group's members. Unknown groups are empty.
func (g *Groups) Members(group string) []Member {
	return append([]Member(nil), g.doc.Data[group]...)
}

// Names returns the group names in sorted order.
func (g *Groups) Names() []string {
	names := make([]string, 0, len(g.doc.Data))
	for name := range g.doc.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the groups back to the store.
func (g *Groups) Save() error {
	if err := g.doc.Save(); err != nil {
		return fmt.Errorf("save groups: %w", err)
	}
	return nil
}
