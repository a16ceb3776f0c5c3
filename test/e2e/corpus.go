// Package e2e provides end-to-end tests of the analysis pipeline with a corpus of
// projects and the vision reports the API returns for them.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/asil/internal/report"
)

// Project is one submission in the E2E corpus with the report the vision API
// returns for it.
type Project struct {
	ID       string
	FileName string
	Topic    string
	Theme    string
	Host     string
	Report   string
}

// QueryTestCase defines a query and the project ID(s) that must appear in search results.
type QueryTestCase struct {
	Query              string
	ExpectedProjectIDs []string
	Description        string
}

// Corpus holds projects and query test cases for E2E tests.
type Corpus struct {
	Projects     []Project
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

// ProjectsPerTheme is how many consecutive projects share a theme entity.
const ProjectsPerTheme = 3

// FileExtensions cycles through the upload types used for corpus files.
var FileExtensions = []string{".png", ".jpg", ".docx"}

var topics = []string{
	"Solar water heater",
	"Smart irrigation system",
	"Line following robot",
	"Campus navigation app",
	"Air quality monitor",
	"Hydroponic tower",
	"Braille translation glove",
	"Library booking portal",
	"Traffic light controller",
	"Recycled plastic bricks",
	"Drone crop survey",
	"Heart rate wearable",
	"Handwriting recognition",
	"Earthquake early warning",
	"Vending machine inventory",
	"Wind turbine blade",
	"Parking occupancy sensor",
	"Desalination still",
	"Attendance tracker",
	"Electric kart prototype",
	"Sign language interpreter",
	"Firefighting rover",
	"Energy meter dashboard",
	"Truss bridge model",
	"Biogas digester",
	"Greenhouse climate controller",
	"Prosthetic hand",
	"Rainwater harvesting roof",
	"Clinic appointment scheduler",
	"Sand filtration unit",
}

// themes are single words that appear in no topic, so only projects of the same
// theme share an entity.
var themes = []string{
	"Photovoltaics",
	"Agronomy",
	"Mechatronics",
	"Wayfinding",
	"Meteorology",
	"Geotechnics",
	"Biomedicine",
	"Informatics",
	"Hydrology",
	"Microcontrollers",
}

// BuildCorpus returns one project per topic, grouped into themes of ProjectsPerTheme,
// and a search test case per project.
func BuildCorpus() *Corpus {
	projects := make([]Project, 0, len(topics))
	for i, topic := range topics {
		p := Project{
			ID:       fmt.Sprintf("project-%02d", i),
			FileName: fmt.Sprintf("project-%02d%s", i, FileExtensions[i%len(FileExtensions)]),
			Topic:    topic,
			Theme:    themes[(i/ProjectsPerTheme)%len(themes)],
			Host:     slug(topic) + ".example.org",
		}
		p.Report = renderReport(p)
		projects = append(projects, p)
	}
	cases := make([]QueryTestCase, 0, len(projects)*2)
	for _, p := range projects {
		cases = append(cases, QueryTestCase{
			Query:              p.Topic,
			ExpectedProjectIDs: []string{p.ID},
			Description:        "entity: " + p.Topic,
		})
		cases = append(cases, QueryTestCase{
			Query:              p.Host,
			ExpectedProjectIDs: []string{p.ID},
			Description:        "host: " + p.Host,
		})
	}
	return &Corpus{
		Projects:     projects,
		TestCases:    cases,
		TotalDocs:    len(projects),
		TotalQueries: len(cases),
	}
}

// ThemeMates returns the IDs of the other projects sharing p's theme.
func (c *Corpus) ThemeMates(p Project) []string {
	var ids []string
	for _, other := range c.Projects {
		if other.ID != p.ID && other.Theme == p.Theme {
			ids = append(ids, other.ID)
		}
	}
	return ids
}

// ByFileName returns the project submitted under name.
func (c *Corpus) ByFileName(name string) (Project, bool) {
	for _, p := range c.Projects {
		if p.FileName == name {
			return p, true
		}
	}
	return Project{}, false
}

func renderReport(p Project) string {
	m := report.EmptySectionMap()
	m[report.WebEntities] = []string{
		fmt.Sprintf("%s (score: 0.9)", p.Topic),
		fmt.Sprintf("%s (score: 0.45)", p.Theme),
	}
	m[report.FullMatchingImages] = []string{"https://cdn." + p.Host + "/cover.jpg"}
	m[report.MatchingPages] = []string{"https://www." + p.Host + "/projects/" + p.ID}
	m[report.BestGuessLabels] = []string{strings.ToLower(p.Topic) + " project"}
	return report.Format(m)
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}
