package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
	"github.com/tidwall/gjson"
)

// ErrUnrecognizedPayload is returned when scanned input carries no
// well-formed identifier.
var ErrUnrecognizedPayload = errors.New("unrecognized payload")

// identifierFields are probed in order before falling back to a full scan.
var identifierFields = []string{"id", "uniqueId", "unique_id"}

// Event is the descriptive metadata embedded in every payload.
type Event struct {
	Name  string
	Date  string
	Venue string
}

// Document is the structured payload encoded into the QR code.
type Document struct {
	ID           string    `json:"id"`
	TicketID     string    `json:"ticketId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Organization string    `json:"organization"`
	Role         string    `json:"role,omitempty"`
	Event        string    `json:"event,omitempty"`
	Date         string    `json:"date,omitempty"`
	Venue        string    `json:"venue,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Payload is an encoded ticket: the document and its serialised text,
// which is what the QR code carries.
type Payload struct {
	Document Document `json:"document"`
	Text     string   `json:"text"`
}

// Codec encodes registrations into payloads and extracts identifiers from
// scanned input.
type Codec struct {
	format Format
	event  Event
	now    func() time.Time
}

// NewCodec constructs a Codec.
func NewCodec(format Format, event Event) *Codec {
	return &Codec{format: format, event: event, now: time.Now}
}

// WithClock replaces the timestamp source.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Format returns the identifier format the codec accepts.
func (c *Codec) Format() Format { return c.format }

// Encode builds the payload for a registration.
func (c *Codec) Encode(reg model.Registration) (Payload, error) {
	if !c.format.Match(reg.Identifier) {
		return Payload{}, fmt.Errorf("encode payload: malformed identifier %q", reg.Identifier)
	}
	doc := Document{
		ID:           reg.Identifier,
		TicketID:     reg.RecordID,
		Name:         reg.Name,
		Email:        reg.Email,
		Phone:        reg.Phone,
		Organization: reg.Organization,
		Role:         reg.Role,
		Event:        c.event.Name,
		Date:         c.event.Date,
		Venue:        c.event.Venue,
		Timestamp:    c.now().UTC(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	return Payload{Document: doc, Text: string(raw)}, nil
}

// ScanInput is what a scanner produced: either a BareIdentifier or a
// StructuredPayload.
type ScanInput interface {
	scanInput()
}

// BareIdentifier is scanner output that is not a JSON document.
type BareIdentifier string

// StructuredPayload is scanner output that parsed as a JSON object or array.
type StructuredPayload struct {
	doc gjson.Result
}

func (BareIdentifier) scanInput()    {}
func (StructuredPayload) scanInput() {}

// ParseScanInput classifies raw scanner output.
func ParseScanInput(raw string) ScanInput {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if gjson.Valid(trimmed) {
			return StructuredPayload{doc: gjson.Parse(trimmed)}
		}
	}
	return BareIdentifier(raw)
}

// Decode extracts the identifier from raw scanner output. It performs no I/O.
func (c *Codec) Decode(raw string) (string, error) {
	return c.Extract(ParseScanInput(raw))
}

// Extract applies the extraction rules for each kind of input:
// a bare identifier is trimmed and upper-cased; a structured payload is
// probed at the well-known fields, then every string value in document
// order.
func (c *Codec) Extract(in ScanInput) (string, error) {
	switch v := in.(type) {
	case BareIdentifier:
		if id, ok := c.format.Normalize(string(v)); ok {
			return id, nil
		}
	case StructuredPayload:
		if id, ok := c.extractStructured(v.doc); ok {
			return id, nil
		}
	}
	return "", ErrUnrecognizedPayload
}

func (c *Codec) extractStructured(doc gjson.Result) (string, bool) {
	if doc.IsObject() {
		for _, field := range identifierFields {
			value := doc.Get(field)
			if value.Type != gjson.String {
				continue
			}
			if id, ok := c.format.Normalize(value.Str); ok {
				return id, true
			}
		}
	}
	return c.scan(doc)
}

// scan walks the document depth-first and returns the first string value
// matching the format.
func (c *Codec) scan(node gjson.Result) (id string, found bool) {
	switch {
	case node.Type == gjson.String:
		return c.format.Normalize(node.Str)
	case node.IsObject(), node.IsArray():
		node.ForEach(func(_, value gjson.Result) bool {
			id, found = c.scan(value)
			return !found
		})
	}
	return id, found
}
