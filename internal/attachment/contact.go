package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-vcard"
)

// Contact is a vCard-backed address book entry.
type Contact struct {
	Base
	FirstName string
	LastName  string
	Phone     string
	Email     string
	// VCard is the serialized card, generated when not supplied.
	VCard string
}

// NewContact builds a contact and generates its vCard.
func NewContact(firstName, lastName, phone, email string, meta any) *Contact {
	c := &Contact{
		Base:      Base{ProviderMeta: meta},
		FirstName: firstName,
		LastName:  lastName,
		Phone:     phone,
		Email:     email,
	}
	c.VCard = c.encode()
	c.SourceURL = vcardDataURL(c.VCard)
	return c
}

// ParseContact reads the first card from vCard text. It fails with a
// FormatError when the text contains no card.
func ParseContact(text string, meta any) (*Contact, error) {
	card, err := vcard.NewDecoder(strings.NewReader(text)).Decode()
	if errors.Is(err, io.EOF) {
		return nil, &FormatError{Format: "vcard", Err: errors.New("no cards found")}
	}
	if err != nil {
		return nil, &FormatError{Format: "vcard", Err: err}
	}

	c := &Contact{
		Base:  Base{SourceURL: vcardDataURL(text), ProviderMeta: meta},
		Phone: strings.TrimPrefix(card.PreferredValue(vcard.FieldTelephone), "tel:"),
		Email: strings.TrimPrefix(card.PreferredValue(vcard.FieldEmail), "mailto:"),
		VCard: text,
	}
	if name := card.Name(); name != nil {
		c.FirstName = name.GivenName
		c.LastName = name.FamilyName
	}
	if c.FirstName == "" && c.LastName == "" {
		c.FirstName = card.PreferredValue(vcard.FieldFormattedName)
	}
	return c, nil
}

func (c *Contact) Kind() Kind             { return KindContact }
func (c *Contact) Accept(v Visitor) error { return v.VisitContact(c) }

// FullName is the first and last name joined.
func (c *Contact) FullName() string { return join(" ", c.FirstName, c.LastName) }

func (c *Contact) String() string {
	return join(" ", "☎", c.FullName(), c.Phone, c.Email)
}

func (c *Contact) encode() string {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldFormattedName, c.FullName())
	card.SetName(&vcard.Name{GivenName: c.FirstName, FamilyName: c.LastName})
	if c.Phone != "" {
		card.Add(vcard.FieldTelephone, &vcard.Field{
			Value:  c.Phone,
			Params: vcard.Params{vcard.ParamType: {vcard.TypeCell}},
		})
	}
	if c.Email != "" {
		card.SetValue(vcard.FieldEmail, c.Email)
	}
	vcard.ToV4(card)

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return ""
	}
	return buf.String()
}

func vcardDataURL(text string) string {
	if text == "" {
		return ""
	}
	return "data:text/vcard;base64," + base64.StdEncoding.EncodeToString([]byte(text))
}
