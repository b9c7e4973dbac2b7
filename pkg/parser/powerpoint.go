package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// PowerPointParser reads PPTX archives slide by slide. Shapes are
// ordered top-left to bottom-right so reading order survives; tables
// render row by row; slide images are extracted with the slide number
// as their page. It sits ahead of the generic document parser in the
// factory so presentations never reach the generic path.
type PowerPointParser struct{}

func NewPowerPointParser() *PowerPointParser { return &PowerPointParser{} }

func (p *PowerPointParser) Name() string { return "powerpoint" }

func (p *PowerPointParser) CanParse(contentType string) bool {
	return contentType == contenttype.PPTX || contentType == contenttype.PPT
}

var (
	slidePathPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	slideRelsPattern = regexp.MustCompile(`^ppt/slides/_rels/slide(\d+)\.xml\.rels$`)
)

func (p *PowerPointParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open presentation: %w", err)
	}
	defer zr.Close()

	type slideFile struct {
		num  int
		file *zip.File
	}
	var slides []slideFile
	media := map[string]*zip.File{}
	rels := map[int]*zip.File{}

	for _, f := range zr.File {
		if m := slidePathPattern.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slideFile{num: n, file: f})
			continue
		}
		if strings.HasPrefix(f.Name, "ppt/media/") {
			media[path.Base(f.Name)] = f
			continue
		}
		if m := slideRelsPattern.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			rels[n] = f
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	var images []Image

	for _, s := range slides {
		text, imageRefs, err := parseSlide(s.file)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "## Slide %d\n\n%s\n\n", s.num, text)

		imageTargets := slideImageTargets(rels[s.num])
		for _, refID := range imageRefs {
			target, ok := imageTargets[refID]
			if !ok {
				continue
			}
			mf, ok := media[path.Base(target)]
			if !ok {
				continue
			}
			data, err := readZipFile(mf)
			if err != nil {
				continue
			}
			images = append(images, Image{
				Bytes:    data,
				Page:     s.num,
				Index:    len(images),
				Format:   strings.TrimPrefix(path.Ext(mf.Name), "."),
				Filename: path.Base(mf.Name),
			})
		}
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyContent
	}

	return &Result{
		Content:   content,
		PageCount: len(slides),
		Images:    images,
		Metadata: map[string]interface{}{
			"format":      "pptx",
			"slide_count": len(slides),
		},
	}, nil
}

// slideXML models the fragments of DrawingML the parser cares about.
type slideXML struct {
	Shapes []shapeXML `xml:"cSld>spTree>sp"`
	Frames []frameXML `xml:"cSld>spTree>graphicFrame"`
	Pics   []picXML   `xml:"cSld>spTree>pic"`
}

type shapeXML struct {
	Off   offXML   `xml:"spPr>xfrm>off"`
	Paras []string `xml:"txBody>p>r>t"`
}

type offXML struct {
	X int64 `xml:"x,attr"`
	Y int64 `xml:"y,attr"`
}

type frameXML struct {
	Off   offXML    `xml:"xfrm>off"`
	Table *tableXML `xml:"graphic>graphicData>tbl"`
}

type tableXML struct {
	Rows []tableRowXML `xml:"tr"`
}

type tableRowXML struct {
	Cells []tableCellXML `xml:"tc"`
}

type tableCellXML struct {
	Texts []string `xml:"txBody>p>r>t"`
}

type picXML struct {
	BlipFill struct {
		Blip struct {
			Embed string `xml:"embed,attr"`
		} `xml:"blip"`
	} `xml:"blipFill"`
}

type positioned struct {
	x, y int64
	text string
}

func parseSlide(f *zip.File) (string, []string, error) {
	data, err := readZipFile(f)
	if err != nil {
		return "", nil, err
	}

	var slide slideXML
	if err := xml.Unmarshal(data, &slide); err != nil {
		return "", nil, fmt.Errorf("failed to decode slide: %w", err)
	}

	var items []positioned
	for _, sp := range slide.Shapes {
		text := strings.TrimSpace(strings.Join(sp.Paras, "\n"))
		if text == "" {
			continue
		}
		items = append(items, positioned{x: sp.Off.X, y: sp.Off.Y, text: text})
	}
	for _, fr := range slide.Frames {
		if fr.Table == nil {
			continue
		}
		var tb strings.Builder
		for _, row := range fr.Table.Rows {
			cells := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = strings.Join(c.Texts, " ")
			}
			tb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
		items = append(items, positioned{x: fr.Off.X, y: fr.Off.Y, text: strings.TrimSpace(tb.String())})
	}

	// Top-left to bottom-right reading order.
	sort.Slice(items, func(i, j int) bool {
		if items[i].y != items[j].y {
			return items[i].y < items[j].y
		}
		return items[i].x < items[j].x
	})

	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.text
	}

	refs := make([]string, 0, len(slide.Pics))
	for _, pic := range slide.Pics {
		if id := pic.BlipFill.Blip.Embed; id != "" {
			refs = append(refs, id)
		}
	}
	return strings.Join(parts, "\n\n"), refs, nil
}

type relsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func slideImageTargets(f *zip.File) map[string]string {
	out := map[string]string{}
	if f == nil {
		return out
	}
	data, err := readZipFile(f)
	if err != nil {
		return out
	}
	var rels relsXML
	if err := xml.Unmarshal(data, &rels); err != nil {
		return out
	}
	for _, r := range rels.Relationships {
		if strings.Contains(r.Target, "media/") {
			out[r.ID] = r.Target
		}
	}
	return out
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
