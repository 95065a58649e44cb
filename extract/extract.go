package extract

import (
	"strconv"
	"strings"

	"github.com/vinylhound/discogs-etl/dump"
	"github.com/vinylhound/discogs-etl/schema"
	"github.com/vinylhound/discogs-etl/xmlstream"
)

// Extractor maps one parsed record element to an output record. Extraction
// never fails: unparsable numbers fall back to their defaults, absent string
// fields stay null and absent lists come out empty.
type Extractor func(n *xmlstream.Node) schema.Record

// ForType returns the extractor of the given dump family.
func ForType(t dump.DataType) Extractor {
	switch t {
	case dump.Artist:
		return Artist
	case dump.Release:
		return Release
	case dump.Master:
		return Master
	case dump.Label:
		return Label
	}
	panic("unknown dump data type: " + string(t))
}

// Artist extracts one artist record. Artist identifiers live in a child
// element, unlike releases and masters which carry them as attributes.
func Artist(n *xmlstream.Node) schema.Record {
	return schema.Record{
		"id":             childInt(n, "id", 0),
		"name":           childText(n, "name"),
		"realname":       childText(n, "realname"),
		"profile":        childText(n, "profile"),
		"data_quality":   childText(n, "data_quality"),
		"urls":           textList(n, "urls", "url"),
		"namevariations": textList(n, "namevariations", "name"),
		"aliases":        textList(n, "aliases", "name"),
		"groups":         textList(n, "groups", "name"),
		"members":        textList(n, "members", "name"),
		"images":         images(n),
	}
}

// Release extracts one release record.
func Release(n *xmlstream.Node) schema.Record {
	return schema.Record{
		"id":       attrInt(n, "id", 0),
		"status":   attrText(n, "status"),
		"title":    childText(n, "title"),
		"country":  childText(n, "country"),
		"released": childText(n, "released"),
		"notes":    childText(n, "notes"),
		"images":   images(n),
		"artists":  releaseArtists(n),
		"labels":   releaseLabels(n),
		"formats":  releaseFormats(n),
		"genres":   textList(n, "genres", "genre"),
		"styles":   textList(n, "styles", "style"),
	}
}

// Master extracts one master record.
func Master(n *xmlstream.Node) schema.Record {
	return schema.Record{
		"id":           attrInt(n, "id", 0),
		"main_release": childInt(n, "main_release", 0),
		"artists":      masterArtists(n),
		"genres":       textList(n, "genres", "genre"),
		"styles":       textList(n, "styles", "style"),
		"year":         childInt(n, "year", 0),
		"title":        childText(n, "title"),
		"data_quality": childText(n, "data_quality"),
		"images":       images(n),
		"videos":       videos(n),
	}
}

// Label extracts one label record.
func Label(n *xmlstream.Node) schema.Record {
	return schema.Record{
		"id":           childInt(n, "id", 0),
		"name":         childText(n, "name"),
		"contactinfo":  childText(n, "contactinfo"),
		"profile":      childText(n, "profile"),
		"data_quality": childText(n, "data_quality"),
		"images":       images(n),
		"urls":         textList(n, "urls", "url"),
		"sublabels":    textList(n, "sublabels", "label"),
	}
}

func releaseArtists(n *xmlstream.Node) []string {
	out := []string{}
	if artists := n.Find("artists"); artists != nil {
		for _, a := range artists.FindAll("artist") {
			if name, ok := a.FindText("name"); ok && strings.TrimSpace(name) != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func releaseLabels(n *xmlstream.Node) []schema.Struct {
	out := []schema.Struct{}
	if labels := n.Find("labels"); labels != nil {
		for _, l := range labels.FindAll("label") {
			out = append(out, schema.Struct{
				"name":  attrText(l, "name"),
				"catno": attrText(l, "catno"),
			})
		}
	}
	return out
}

func releaseFormats(n *xmlstream.Node) []schema.Struct {
	out := []schema.Struct{}
	if formats := n.Find("formats"); formats != nil {
		for _, f := range formats.FindAll("format") {
			out = append(out, schema.Struct{
				"name":         attrText(f, "name"),
				"qty":          attrInt(f, "qty", 1),
				"descriptions": textList(f, "descriptions", "description"),
			})
		}
	}
	return out
}

func masterArtists(n *xmlstream.Node) []schema.Struct {
	out := []schema.Struct{}
	if artists := n.Find("artists"); artists != nil {
		for _, a := range artists.FindAll("artist") {
			out = append(out, schema.Struct{
				"id":     childInt(a, "id", 0),
				"name":   childText(a, "name"),
				"anv":    childText(a, "anv"),
				"join":   childText(a, "join"),
				"role":   childText(a, "role"),
				"tracks": childText(a, "tracks"),
			})
		}
	}
	return out
}

func videos(n *xmlstream.Node) []schema.Struct {
	out := []schema.Struct{}
	if vids := n.Find("videos"); vids != nil {
		for _, v := range vids.FindAll("video") {
			out = append(out, schema.Struct{
				"duration":    attrInt(v, "duration", 0),
				"embed":       v.Attr["embed"] == "true",
				"src":         attrText(v, "src"),
				"title":       childText(v, "title"),
				"description": childText(v, "description"),
			})
		}
	}
	return out
}

func images(n *xmlstream.Node) []schema.Struct {
	out := []schema.Struct{}
	if imgs := n.Find("images"); imgs != nil {
		for _, img := range imgs.FindAll("image") {
			out = append(out, schema.Struct{
				"height": attrInt(img, "height", 0),
				"width":  attrInt(img, "width", 0),
				"type":   attrText(img, "type"),
				"uri":    attrText(img, "uri"),
				"uri150": attrText(img, "uri150"),
			})
		}
	}
	return out
}

// childText returns the text of a direct child element, or nil when the
// element is missing so the column stays null.
func childText(n *xmlstream.Node, tag string) any {
	if text, ok := n.FindText(tag); ok {
		return text
	}
	return nil
}

// attrText returns an attribute value, or nil when the attribute is missing.
func attrText(n *xmlstream.Node, name string) any {
	if v, ok := n.Attr[name]; ok {
		return v
	}
	return nil
}

func childInt(n *xmlstream.Node, tag string, def int64) int64 {
	text, ok := n.FindText(tag)
	if !ok {
		return def
	}
	return parseInt(text, def)
}

func attrInt(n *xmlstream.Node, name string, def int64) int64 {
	v, ok := n.Attr[name]
	if !ok {
		return def
	}
	return parseInt(v, def)
}

func parseInt(s string, def int64) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// textList collects the non-blank texts of <listTag><itemTag> children.
// An absent list element yields an empty list, never null.
func textList(n *xmlstream.Node, listTag, itemTag string) []string {
	out := []string{}
	if list := n.Find(listTag); list != nil {
		for _, item := range list.FindAll(itemTag) {
			if strings.TrimSpace(item.Text) != "" {
				out = append(out, item.Text)
			}
		}
	}
	return out
}
