// Package faq holds the questions and answers served to the help widget.
package faq

import "strings"

// Entry is one question with its answer.
type Entry struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer" json:"answer"`
}

// Default returns the built-in FAQ.
func Default() []Entry {
	return []Entry{
		{
			Question: "What is Asil?",
			Answer:   "Asil is an academic tool that supports academic integrity by analysing the originality of university projects with AI.",
		},
		{
			Question: "How does the platform work?",
			Answer:   "It analyses text and images to detect similarity and assess academic creativity in three steps: upload the project, automated analysis, and the final report.",
		},
		{
			Question: "Who can use the platform?",
			Answer:   "Universities, faculty members and students who want to analyse projects and check their intellectual originality.",
		},
		{
			Question: "What does the platform offer universities?",
			Answer:   "It analyses project images, measures project quality and builds an archive of previous projects.",
		},
		{
			Question: "How do faculty members benefit?",
			Answer:   "They can analyse student projects precisely, assess the student's level and check whether a project repeats one already in the archive.",
		},
		{
			Question: "How do students benefit?",
			Answer:   "Students can analyse their projects, present the details to faculty, and show that the submitted project is their own choice.",
		},
		{
			Question: "Can I upload more than one file type?",
			Answer:   "Yes. PDF, JPG, PNG and DOCX files are supported, up to 10MB each.",
		},
	}
}

// Find returns the entries whose question contains query, ignoring case.
// An empty query returns all entries.
func Find(entries []Entry, query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if q == "" || strings.Contains(strings.ToLower(e.Question), q) {
			out = append(out, e)
		}
	}
	return out
}
