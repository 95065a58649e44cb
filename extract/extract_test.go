package extract

import (
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinylhound/discogs-etl/schema"
	"github.com/vinylhound/discogs-etl/xmlstream"
)

func parseOne(t *testing.T, recordTag, containerTag, fragment string) *xmlstream.Node {
	t.Helper()
	p := xmlstream.NewParser(recordTag, containerTag, log.NewLogger())
	var node *xmlstream.Node
	n, err := p.Parse([]byte(fragment), func(rec *xmlstream.Node) error {
		node = rec
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return node
}

func TestArtist(t *testing.T) {
	node := parseOne(t, "artist", "artists", `
		<artist>
			<id>132</id>
			<name>Minimum Wage Rock Ensemble</name>
			<realname>MWRE</realname>
			<profile>Band profile.</profile>
			<data_quality>Correct</data_quality>
			<urls><url>http://example.com</url><url></url></urls>
			<namevariations><name>M.W.R.E.</name></namevariations>
			<aliases><name>The Ensemble</name></aliases>
			<groups><name>Group A</name></groups>
			<members><name>Alice</name><name>Bob</name></members>
			<images>
				<image height="600" width="480" type="primary" uri="" uri150=""/>
			</images>
		</artist>`)

	rec := Artist(node)

	assert.Equal(t, int64(132), rec["id"])
	assert.Equal(t, "Minimum Wage Rock Ensemble", rec["name"])
	assert.Equal(t, "MWRE", rec["realname"])
	assert.Equal(t, "Correct", rec["data_quality"])
	assert.Equal(t, []string{"http://example.com"}, rec["urls"])
	assert.Equal(t, []string{"M.W.R.E."}, rec["namevariations"])
	assert.Equal(t, []string{"Alice", "Bob"}, rec["members"])

	imgs := rec["images"].([]schema.Struct)
	require.Len(t, imgs, 1)
	assert.Equal(t, int64(600), imgs[0]["height"])
	assert.Equal(t, int64(480), imgs[0]["width"])
	assert.Equal(t, "primary", imgs[0]["type"])
	assert.Equal(t, "", imgs[0]["uri"])
}

func TestArtistDefaults(t *testing.T) {
	node := parseOne(t, "artist", "artists", `<artist><name>Nameless</name></artist>`)

	rec := Artist(node)

	assert.Equal(t, int64(0), rec["id"])
	assert.Nil(t, rec["realname"])
	assert.Nil(t, rec["profile"])
	assert.Equal(t, []string{}, rec["urls"])
	assert.Equal(t, []string{}, rec["aliases"])
	assert.Equal(t, []schema.Struct{}, rec["images"])
}

func TestArtistUnparsableID(t *testing.T) {
	node := parseOne(t, "artist", "artists", `<artist><id>not-a-number</id></artist>`)

	rec := Artist(node)

	assert.Equal(t, int64(0), rec["id"])
}

func TestRelease(t *testing.T) {
	node := parseOne(t, "release", "releases", `
		<release id="1" status="Accepted">
			<title>Stockholm</title>
			<country>Sweden</country>
			<released>1999-03-00</released>
			<notes>Original pressing.</notes>
			<images><image height="394" width="400" type="primary" uri="" uri150=""/></images>
			<artists><artist><id>1</id><name>Persuader, The</name></artist></artists>
			<labels><label name="Svek" catno="SK032"/></labels>
			<formats>
				<format name="Vinyl" qty="2">
					<descriptions><description>12"</description><description>33 RPM</description></descriptions>
				</format>
			</formats>
			<genres><genre>Electronic</genre></genres>
			<styles><style>Deep House</style></styles>
		</release>`)

	rec := Release(node)

	assert.Equal(t, int64(1), rec["id"])
	assert.Equal(t, "Accepted", rec["status"])
	assert.Equal(t, "Stockholm", rec["title"])
	assert.Equal(t, "Sweden", rec["country"])
	assert.Equal(t, "1999-03-00", rec["released"])
	assert.Equal(t, []string{"Persuader, The"}, rec["artists"])
	assert.Equal(t, []string{"Electronic"}, rec["genres"])
	assert.Equal(t, []string{"Deep House"}, rec["styles"])

	labels := rec["labels"].([]schema.Struct)
	require.Len(t, labels, 1)
	assert.Equal(t, "Svek", labels[0]["name"])
	assert.Equal(t, "SK032", labels[0]["catno"])

	formats := rec["formats"].([]schema.Struct)
	require.Len(t, formats, 1)
	assert.Equal(t, "Vinyl", formats[0]["name"])
	assert.Equal(t, int64(2), formats[0]["qty"])
	assert.Equal(t, []string{`12"`, "33 RPM"}, formats[0]["descriptions"])
}

func TestReleaseDefaults(t *testing.T) {
	node := parseOne(t, "release", "releases", `<release><title>Untitled</title></release>`)

	rec := Release(node)

	assert.Equal(t, int64(0), rec["id"])
	assert.Nil(t, rec["status"])
	assert.Nil(t, rec["notes"])
	assert.Equal(t, []string{}, rec["artists"])
	assert.Equal(t, []schema.Struct{}, rec["labels"])
	assert.Equal(t, []schema.Struct{}, rec["formats"])
}

func TestReleaseFormatQtyDefaultsToOne(t *testing.T) {
	node := parseOne(t, "release", "releases", `<release id="9"><formats><format name="CD"/></formats></release>`)

	rec := Release(node)

	formats := rec["formats"].([]schema.Struct)
	require.Len(t, formats, 1)
	assert.Equal(t, int64(1), formats[0]["qty"])
	assert.Equal(t, []string{}, formats[0]["descriptions"])
}

func TestMaster(t *testing.T) {
	node := parseOne(t, "master", "masters", `
		<master id="18500">
			<main_release>155102</main_release>
			<artists>
				<artist><id>212070</id><name>Samuel L Session</name><anv>Samuel L</anv><join></join><role></role><tracks></tracks></artist>
			</artists>
			<genres><genre>Electronic</genre></genres>
			<styles><style>Techno</style></styles>
			<year>2001</year>
			<title>New Soil</title>
			<data_quality>Correct</data_quality>
			<videos>
				<video duration="489" embed="true" src="https://www.youtube.com/watch?v=abc"><title>Velvet</title><description>Clip</description></video>
				<video src="https://www.youtube.com/watch?v=def"><title>No Attrs</title></video>
			</videos>
		</master>`)

	rec := Master(node)

	assert.Equal(t, int64(18500), rec["id"])
	assert.Equal(t, int64(155102), rec["main_release"])
	assert.Equal(t, int64(2001), rec["year"])
	assert.Equal(t, "New Soil", rec["title"])

	artists := rec["artists"].([]schema.Struct)
	require.Len(t, artists, 1)
	assert.Equal(t, int64(212070), artists[0]["id"])
	assert.Equal(t, "Samuel L Session", artists[0]["name"])
	assert.Equal(t, "Samuel L", artists[0]["anv"])
	assert.Equal(t, "", artists[0]["role"])

	vids := rec["videos"].([]schema.Struct)
	require.Len(t, vids, 2)
	assert.Equal(t, int64(489), vids[0]["duration"])
	assert.Equal(t, true, vids[0]["embed"])
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", vids[0]["src"])
	assert.Equal(t, "Velvet", vids[0]["title"])

	assert.Equal(t, int64(0), vids[1]["duration"])
	assert.Equal(t, false, vids[1]["embed"])
	assert.Nil(t, vids[1]["description"])
}

func TestMasterDefaults(t *testing.T) {
	node := parseOne(t, "master", "masters", `<master><title>Bare</title></master>`)

	rec := Master(node)

	assert.Equal(t, int64(0), rec["id"])
	assert.Equal(t, int64(0), rec["main_release"])
	assert.Equal(t, int64(0), rec["year"])
	assert.Equal(t, []schema.Struct{}, rec["artists"])
	assert.Equal(t, []schema.Struct{}, rec["videos"])
}

func TestLabel(t *testing.T) {
	node := parseOne(t, "label", "labels", `
		<label>
			<id>1</id>
			<name>Planet E</name>
			<contactinfo>Planet E Communications</contactinfo>
			<profile>Detroit label.</profile>
			<data_quality>Correct</data_quality>
			<urls><url>http://planet-e.net</url></urls>
			<sublabels><label>Antidote (4)</label><label>Community Projects</label></sublabels>
		</label>`)

	rec := Label(node)

	assert.Equal(t, int64(1), rec["id"])
	assert.Equal(t, "Planet E", rec["name"])
	assert.Equal(t, "Planet E Communications", rec["contactinfo"])
	assert.Equal(t, []string{"http://planet-e.net"}, rec["urls"])
	assert.Equal(t, []string{"Antidote (4)", "Community Projects"}, rec["sublabels"])
}

func TestForTypeCoversAllFamilies(t *testing.T) {
	node := parseOne(t, "artist", "artists", `<artist><id>7</id></artist>`)

	rec := ForType("artist")(node)

	assert.Equal(t, int64(7), rec["id"])
}
