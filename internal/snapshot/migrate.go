package snapshot

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// migrations[v] rewrites a version v document into version v+1.
var migrations = map[int]func(map[string]any) map[string]any{
	1: migrateV1,
}

// field is a current key followed by the legacy keys it replaced. Readers try
// them in order and fall back to a neutral value when none is present.
type field struct {
	name    string
	aliases []string
}

func f(name string, aliases ...string) field { return field{name: name, aliases: aliases} }

var (
	versionField = f("schemaVersion", "schema_version")

	reportTypeField      = f("reportType", "report_type")
	drugIDField          = f("drugId", "drug_id", "sourceDrugId", "source_drug_id")
	drugNameField        = f("drugName", "drug_name", "sourceDrugName", "source_drug_name")
	competitorsField     = f("competitors", "competitor_drugs", "competitorDrugs")
	competitorIDsField   = f("competitorDrugIds", "competitor_drug_ids")
	competitorNamesField = f("competitorDrugNames", "competitor_drug_names")
	highlightsField      = f("highlights")
	notesField           = f("notes", "quickNotes", "quick_notes")
	messagesField        = f("flaggedMessages", "flagged_messages", "flaggedChats", "flagged_chats")
	uiField              = f("ui", "uiState", "ui_state")
	activeSectionField   = f("activeSection", "active_section")
	scrollField          = f("scrollPosition", "scroll_position")

	idField        = f("id")
	sectionIDField = f("sectionId", "section_id", "loincCode", "loinc_code")
	textField      = f("text", "highlightedText", "highlighted_text")
	startField     = f("startOffset", "start_offset", "startChar", "start_char")
	endField       = f("endOffset", "end_offset", "endChar", "end_char")
	colorField     = f("color", "highlightColor", "highlight_color")
	rectField      = f("rect", "boundingRect", "bounding_rect")
	annotField     = f("annotation")
	createdField   = f("createdAt", "created_at")
	updatedField   = f("updatedAt", "updated_at")

	noteTypeField    = f("type", "noteType", "note_type")
	contentField     = f("content")
	highlightIDField = f("highlightId", "highlight_id")
	citationField    = f("citation")

	roleField      = f("role")
	timestampField = f("timestamp", "flaggedAt", "flagged_at", "createdAt", "created_at")
	citationsField = f("citations")
	flaggedField   = f("isFlagged", "is_flagged")
	questionField  = f("question")
	answerField    = f("answer", "response")

	citeSectionField   = f("section", "sectionTitle", "section_title")
	citeSectionIDField = f("sectionId", "section_id", "loincCode", "loinc_code")
	citeExcerptField   = f("excerpt", "chunkText", "chunk_text")

	compIDField   = f("drugId", "drug_id", "id")
	compNameField = f("drugName", "drug_name", "name")
)

var legacyNoteTypes = map[string]string{
	"cited":           "cited",
	"citation_linked": "cited",
	"uncited":         "uncited",
	"standalone":      "uncited",
}

// migrateV1 maps the unversioned document family, which used either
// snake_case or camelCase keys, onto the version 2 layout.
func migrateV1(doc map[string]any) map[string]any {
	out := map[string]any{"schemaVersion": 2}

	drugID := asString(get(doc, drugIDField))
	out["drugId"] = drugID
	out["drugName"] = asString(get(doc, drugNameField))

	competitors := migrateCompetitors(doc)
	out["competitors"] = competitors

	reportType := strings.ToLower(asString(get(doc, reportTypeField)))
	if reportType == "" {
		reportType = "analysis"
		if len(competitors) > 0 {
			reportType = "comparison"
		}
	}
	out["reportType"] = reportType

	highlights := []any{}
	for _, raw := range asList(get(doc, highlightsField)) {
		if m, ok := raw.(map[string]any); ok {
			highlights = append(highlights, migrateHighlight(m))
		}
	}

	notes := []any{}
	linked := map[string]bool{}
	for _, raw := range asList(get(doc, notesField)) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		note, synthesized := migrateNote(m)
		if synthesized != nil && !containsID(highlights, synthesized["id"].(string)) {
			highlights = append(highlights, synthesized)
		}
		if hid, _ := note["highlightId"].(string); hid != "" {
			linked[hid] = true
		}
		notes = append(notes, note)
	}

	// Legacy highlights carried their annotation inline. Promote it to a
	// cited note unless one already exists.
	for _, raw := range asList(get(doc, highlightsField)) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		text := asString(get(m, annotField))
		id := asString(get(m, idField))
		if text == "" || id == "" || linked[id] {
			continue
		}
		created := asTime(get(m, createdField))
		notes = append(notes, map[string]any{
			"id":          "nt_" + id,
			"type":        "cited",
			"content":     text,
			"highlightId": id,
			"createdAt":   created,
			"updatedAt":   created,
		})
		linked[id] = true
	}
	out["highlights"] = highlights
	out["notes"] = notes

	messages := []any{}
	for _, raw := range asList(get(doc, messagesField)) {
		if m, ok := raw.(map[string]any); ok {
			messages = append(messages, migrateMessage(m)...)
		}
	}
	out["flaggedMessages"] = messages

	ui := doc
	if nested, ok := get(doc, uiField).(map[string]any); ok {
		ui = nested
	}
	active := get(ui, activeSectionField)
	if _, isObject := active.(map[string]any); isObject {
		active = nil
	}
	out["ui"] = map[string]any{
		"activeSection":  asString(active),
		"scrollPosition": asFloat(get(ui, scrollField)),
	}
	return out
}

func migrateCompetitors(doc map[string]any) []any {
	out := []any{}
	if list := asList(get(doc, competitorsField)); len(list) > 0 {
		for _, raw := range list {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, map[string]any{
				"drugId":   asString(get(m, compIDField)),
				"drugName": asString(get(m, compNameField)),
			})
		}
		return out
	}
	ids := asList(get(doc, competitorIDsField))
	names := asList(get(doc, competitorNamesField))
	for i, id := range ids {
		name := ""
		if i < len(names) {
			name = asString(names[i])
		}
		out = append(out, map[string]any{"drugId": asString(id), "drugName": name})
	}
	return out
}

func migrateHighlight(m map[string]any) map[string]any {
	out := map[string]any{
		"id":          asString(get(m, idField)),
		"sectionId":   asString(get(m, sectionIDField)),
		"text":        asString(get(m, textField)),
		"startOffset": asIntOr(get(m, startField), 0),
		"endOffset":   asIntOr(get(m, endField), 0),
		"color":       strings.ToLower(asString(get(m, colorField))),
		"createdAt":   asTime(get(m, createdField)),
	}
	if rect, ok := get(m, rectField).(map[string]any); ok {
		out["rect"] = rect
	}
	return out
}

// migrateNote also returns the highlight a legacy citation_linked note
// carried inline, if it had no highlight reference of its own.
func migrateNote(m map[string]any) (note, highlight map[string]any) {
	id := asString(get(m, idField))
	noteType := legacyNoteTypes[strings.ToLower(asString(get(m, noteTypeField)))]
	highlightID := asString(get(m, highlightIDField))
	created := asTime(get(m, createdField))
	updated := asTime(get(m, updatedField))
	if updated == zeroTime {
		updated = created
	}

	if noteType == "cited" && highlightID == "" {
		src := m
		if c, ok := get(m, citationField).(map[string]any); ok {
			src = c
		}
		if _, has := lookup(src, startField); has {
			highlight = migrateHighlight(src)
			highlightID = "hl_" + id
			highlight["id"] = highlightID
			if highlight["createdAt"] == zeroTime {
				highlight["createdAt"] = created
			}
		}
	}
	if noteType == "" {
		noteType = "uncited"
		if highlightID != "" {
			noteType = "cited"
		}
	}

	note = map[string]any{
		"id":        id,
		"type":      noteType,
		"content":   asString(get(m, contentField)),
		"createdAt": created,
		"updatedAt": updated,
	}
	if highlightID != "" {
		note["highlightId"] = highlightID
	}
	return note, highlight
}

// migrateMessage turns a legacy flagged question/answer row into a user and
// assistant message pair. Role-shaped rows pass through.
func migrateMessage(m map[string]any) []any {
	id := asString(get(m, idField))
	ts := asTime(get(m, timestampField))
	citations := migrateCitations(get(m, citationsField))
	flagged := true
	if v, ok := lookup(m, flaggedField); ok {
		flagged = asBool(v)
	}

	if _, ok := lookup(m, roleField); ok {
		msg := map[string]any{
			"id":        id,
			"role":      strings.ToLower(asString(get(m, roleField))),
			"content":   asString(get(m, contentField)),
			"timestamp": ts,
			"isFlagged": flagged,
		}
		if len(citations) > 0 {
			msg["citations"] = citations
		}
		return []any{msg}
	}

	question := map[string]any{
		"id":        id + "_q",
		"role":      "user",
		"content":   asString(get(m, questionField)),
		"timestamp": ts,
		"isFlagged": flagged,
	}
	answer := map[string]any{
		"id":        id + "_a",
		"role":      "assistant",
		"content":   asString(get(m, answerField)),
		"timestamp": ts,
		"isFlagged": flagged,
	}
	if len(citations) > 0 {
		answer["citations"] = citations
	}
	return []any{question, answer}
}

func migrateCitations(v any) []any {
	// rows read back from the legacy tables stored citations as a JSON string
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		var decoded []any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			v = decoded
		}
	}
	out := []any{}
	for _, raw := range asList(v) {
		switch c := raw.(type) {
		case string:
			out = append(out, map[string]any{"section": c})
		case map[string]any:
			cite := map[string]any{"section": asString(get(c, citeSectionField))}
			if sid := asString(get(c, citeSectionIDField)); sid != "" {
				cite["sectionId"] = sid
			}
			if ex := asString(get(c, citeExcerptField)); ex != "" {
				cite["excerpt"] = ex
			}
			out = append(out, cite)
		}
	}
	return out
}

func lookup(m map[string]any, fl field) (any, bool) {
	if v, ok := m[fl.name]; ok {
		return v, true
	}
	for _, a := range fl.aliases {
		if v, ok := m[a]; ok {
			return v, true
		}
	}
	return nil, false
}

func get(m map[string]any, fl field) any {
	v, _ := lookup(m, fl)
	return v
}

func containsID(list []any, id string) bool {
	for _, raw := range list {
		if m, ok := raw.(map[string]any); ok && m["id"] == id {
			return true
		}
	}
	return false
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
		if fl, err := t.Float64(); err == nil && fl == math.Trunc(fl) {
			return int(fl), true
		}
	case float64:
		if t == math.Trunc(t) {
			return int(t), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func asIntOr(v any, fallback int) int {
	if i, ok := asInt(v); ok {
		return i
	}
	return fallback
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case json.Number:
		if fl, err := t.Float64(); err == nil {
			return fl
		}
	case float64:
		return t
	case string:
		if fl, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return fl
		}
	}
	return 0
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case json.Number:
		return t.String() != "0"
	}
	return false
}

var zeroTime = time.Time{}.Format(time.RFC3339Nano)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// asTime normalises legacy timestamps to RFC 3339 UTC. Zone-less values were
// written in UTC. Epoch milliseconds are accepted too. Unreadable values
// become the zero time.
func asTime(v any) string {
	var t time.Time
	switch raw := v.(type) {
	case string:
		s := strings.TrimSpace(raw)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t = parsed
				break
			}
		}
	case json.Number:
		if ms, err := raw.Int64(); err == nil {
			t = time.UnixMilli(ms)
		}
	case float64:
		t = time.UnixMilli(int64(raw))
	}
	return t.UTC().Format(time.RFC3339Nano)
}
