/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// ActionType selects how an action value is interpreted.
type ActionType string

const (
	ActionURL    ActionType = "url"
	ActionEmail  ActionType = "email"
	ActionPhone  ActionType = "phone"
	ActionPDF    ActionType = "pdf"
	ActionVCard  ActionType = "vcard"
	ActionCustom ActionType = "custom"
)

// ErrInvalidAction marks input validation failures on action descriptors.
var ErrInvalidAction = errors.New("invalid action")

// Action is the {type, value} descriptor on interactive objects.
type Action struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value"`
}

// Dispatch is the resolved click behaviour of an action.
type Dispatch struct {
	Href string `json:"href,omitempty"`
	// NewWindow opens Href in a new viewing context.
	NewWindow bool `json:"newWindow,omitempty"`
	// CopyText is copied to the clipboard on click (phone numbers).
	CopyText string `json:"copyText,omitempty"`
	// Custom carries the opaque value of custom actions.
	Custom string `json:"custom,omitempty"`
}

var (
	schemeRe   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
	inlineURIs = []string{"mailto:", "tel:", "sms:", "data:"}
	phoneStrip = strings.NewReplacer(" ", "", "\t", "", "-", "", ".", "", "(", "", ")", "")
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{3,15}$`)
)

// ParseActionType maps stored type names (including legacy spellings) onto ActionType.
func ParseActionType(s string) (ActionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "url", "link", "website", "web":
		return ActionURL, true
	case "email", "mail", "mailto":
		return ActionEmail, true
	case "phone", "tel", "call":
		return ActionPhone, true
	case "pdf":
		return ActionPDF, true
	case "vcard", "vcf", "contact":
		return ActionVCard, true
	case "custom":
		return ActionCustom, true
	}
	return "", false
}

// NormalizeURL prefixes https:// when the value carries no scheme.
func NormalizeURL(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if schemeRe.MatchString(v) {
		return v
	}
	lower := strings.ToLower(v)
	for _, p := range inlineURIs {
		if strings.HasPrefix(lower, p) {
			return v
		}
	}
	if strings.HasPrefix(v, "//") {
		return "https:" + v
	}
	return "https://" + v
}

// PhoneNumber strips formatting characters and any tel: prefix.
func PhoneNumber(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(strings.ToLower(v), "tel:") {
		v = v[4:]
	}
	return phoneStrip.Replace(v)
}

func emailAddress(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(strings.ToLower(v), "mailto:") {
		v = v[7:]
	}
	return v
}

// Target returns the navigation target; custom actions have none.
func (a Action) Target() string {
	switch a.Type {
	case ActionEmail:
		if e := emailAddress(a.Value); e != "" {
			return "mailto:" + e
		}
	case ActionPhone:
		if p := PhoneNumber(a.Value); p != "" {
			return "tel:" + p
		}
	case ActionPDF, ActionVCard:
		v := strings.TrimSpace(a.Value)
		if strings.HasPrefix(v, "/") && !strings.HasPrefix(v, "//") {
			return v
		}
		return NormalizeURL(v)
	case ActionCustom:
		return ""
	default:
		return NormalizeURL(a.Value)
	}
	return ""
}

// Dispatch resolves the click behaviour: phone numbers are copied and
// called in place, every other target opens in a new viewing context.
func (a Action) Dispatch() Dispatch {
	if a.Type == ActionCustom {
		return Dispatch{Custom: a.Value}
	}
	href := a.Target()
	if href == "" {
		return Dispatch{}
	}
	if a.Type == ActionPhone {
		return Dispatch{Href: href, CopyText: PhoneNumber(a.Value)}
	}
	return Dispatch{Href: href, NewWindow: true}
}

// Empty reports whether the action has nothing to dispatch.
func (d Dispatch) Empty() bool { return d.Href == "" && d.Custom == "" }

// Validate checks the value against its type before it is stored.
func (a Action) Validate() error {
	v := strings.TrimSpace(a.Value)
	switch a.Type {
	case ActionURL:
		u, err := url.Parse(NormalizeURL(v))
		if v == "" || err != nil || u.Host == "" || strings.ContainsAny(u.Host, " <>\"") {
			return fmt.Errorf("%w: url %q", ErrInvalidAction, a.Value)
		}
		if !strings.Contains(u.Hostname(), ".") && u.Hostname() != "localhost" {
			return fmt.Errorf("%w: url %q has no domain", ErrInvalidAction, a.Value)
		}
	case ActionEmail:
		e := emailAddress(v)
		addr, err := mail.ParseAddress(e)
		if err != nil || addr.Address != e {
			return fmt.Errorf("%w: email %q", ErrInvalidAction, a.Value)
		}
	case ActionPhone:
		if !phoneRe.MatchString(PhoneNumber(v)) {
			return fmt.Errorf("%w: phone %q", ErrInvalidAction, a.Value)
		}
	case ActionPDF, ActionVCard:
		if v == "" {
			return fmt.Errorf("%w: %s action needs a file url", ErrInvalidAction, a.Type)
		}
	case ActionCustom:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

// actionFrom reads "action" or "linkData" descriptors. Both {type,value}
// and the older {linkType,url} spellings are accepted.
func actionFrom(o *Object) *Action {
	for _, key := range []string{"action", "linkData"} {
		var raw struct {
			Type     string `json:"type"`
			Value    string `json:"value"`
			LinkType string `json:"linkType"`
			URL      string `json:"url"`
		}
		if err := o.Decode(key, &raw); err != nil {
			continue
		}
		typ := raw.Type
		if typ == "" {
			typ = raw.LinkType
		}
		val := raw.Value
		if val == "" {
			val = raw.URL
		}
		t, ok := ParseActionType(typ)
		if !ok {
			t = ActionCustom
		}
		if val == "" {
			continue
		}
		return &Action{Type: t, Value: val}
	}
	return urlAction(o)
}

// urlAction reads the url/urlType metadata carried by plain objects.
func urlAction(o *Object) *Action {
	u := strings.TrimSpace(o.StringOr("url", ""))
	if u == "" {
		return nil
	}
	t, ok := ParseActionType(o.StringOr("urlType", ""))
	if !ok {
		t = ActionURL
	}
	return &Action{Type: t, Value: u}
}

func interactive(o *Object) bool {
	switch strings.ToLower(o.ElementType()) {
	case "button", "link":
		return true
	}
	return false
}

// ObjectAction reads the click action stored on a raw object.
func ObjectAction(o *Object) *Action {
	if interactive(o) {
		return actionFrom(o)
	}
	return urlAction(o)
}

// SetObjectAction stores a on o in the field its element type reads from.
// Buttons and links carry an "action" descriptor; other objects carry
// url/urlType. A nil action clears both spellings.
func SetObjectAction(o *Object, a *Action) {
	if a == nil {
		for _, k := range []string{"action", "linkData", "url", "urlType"} {
			o.Delete(k)
		}
		return
	}
	if interactive(o) {
		o.Delete("linkData")
		_ = o.Set("action", a)
		return
	}
	_ = o.Set("url", a.Value)
	_ = o.Set("urlType", string(a.Type))
}
