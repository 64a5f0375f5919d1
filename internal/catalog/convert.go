// Package catalog fetches the external course catalog and converts it to a
// CSV file the catalog template loads.
package catalog

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// CourseElement is the XML element holding one catalog entry
const CourseElement = "course"

// ConvertXML streams <course> elements from r and writes them as CSV to w.
// The header is taken from the child elements of the first course; later
// courses contribute only the fields the header names. It returns the number
// of courses written.
func ConvertXML(r io.Reader, w io.Writer) (int, error) {
	decoder := xml.NewDecoder(r)
	out := csv.NewWriter(w)

	var header []string
	count := 0

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("malformed catalog XML: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != CourseElement {
			continue
		}

		names, values, err := readCourse(decoder)
		if err != nil {
			return count, err
		}

		if header == nil {
			header = names
			if err := out.Write(header); err != nil {
				return count, err
			}
		}

		record := make([]string, len(header))
		for i, name := range header {
			record[i] = values[name]
		}
		if err := out.Write(record); err != nil {
			return count, err
		}
		count++
	}

	if header == nil {
		return 0, fmt.Errorf("catalog contains no <%s> elements", CourseElement)
	}

	out.Flush()
	return count, out.Error()
}

// readCourse collects the text of each direct child of a <course> element.
// Attributes of the course element itself are not used.
func readCourse(decoder *xml.Decoder) ([]string, map[string]string, error) {
	var names []string
	values := make(map[string]string)

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("malformed catalog XML: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			var text string
			if err := decoder.DecodeElement(&text, &t); err != nil {
				return nil, nil, fmt.Errorf("malformed <%s> field %s: %w", CourseElement, t.Name.Local, err)
			}
			name := t.Name.Local
			if _, seen := values[name]; !seen {
				names = append(names, name)
			}
			values[name] = strings.TrimSpace(text)
		case xml.EndElement:
			return names, values, nil
		}
	}
}
