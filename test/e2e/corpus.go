// Package e2e provides end-to-end tests with a generated image corpus and multiple queries.
package e2e

import (
	"fmt"
	"image/color"
	"math"
)

// E2EImage is one image in the corpus. Vector is the embedding the mock encoder is told to
// return for it; each image owns one axis so its nearest text query is unambiguous.
type E2EImage struct {
	Name   string
	Ext    string
	Color  color.RGBA
	Vector []float32
}

// Filename is the file name the image is written under.
func (img E2EImage) Filename() string {
	return img.Name + img.Ext
}

// QueryTestCase defines a query, the embedding it maps to, and the image that must rank first.
type QueryTestCase struct {
	Query    string
	Vector   []float32
	Expected string
}

// Corpus holds images and query test cases for E2E tests.
type Corpus struct {
	Dimensions   int
	Images       []E2EImage
	TestCases    []QueryTestCase
	TotalImages  int
	TotalQueries int
}

var subjects = []string{
	"a dog running on the beach", "a red sports car", "snow covered mountains",
	"a bowl of ramen", "city skyline at night", "a cat sleeping on a sofa",
	"sunflowers in a field", "a sailboat at sunset", "an old steam train",
	"children playing football", "a bride and groom", "autumn forest path",
}

// BuildCorpus returns n images cycling through the supported formats, and one query per
// subject that targets a specific image.
func BuildCorpus(n int) *Corpus {
	dims := n + 1
	images := make([]E2EImage, n)
	for i := range images {
		vec := make([]float32, dims)
		vec[i] = 1
		// A shared component keeps every image weakly similar to every query.
		vec[n] = 0.2
		images[i] = E2EImage{
			Name:   fmt.Sprintf("img_%03d", i),
			Ext:    SupportedImageExtensions[i%len(SupportedImageExtensions)],
			Color:  color.RGBA{R: uint8(i * 37), G: uint8(255 - i*11), B: uint8(i * 5), A: 255},
			Vector: vec,
		}
	}
	var cases []QueryTestCase
	for i, subject := range subjects {
		if i*3 >= n {
			break
		}
		target := i * 3
		vec := make([]float32, dims)
		vec[target] = 0.9
		vec[(target+1)%n] = 0.3
		vec[n] = 0.1
		cases = append(cases, QueryTestCase{
			Query:    subject,
			Vector:   vec,
			Expected: images[target].Name,
		})
	}
	return &Corpus{
		Dimensions:   dims,
		Images:       images,
		TestCases:    cases,
		TotalImages:  len(images),
		TotalQueries: len(cases),
	}
}

// ExpectedScore is the cosine similarity between a query case and its expected image.
func (c *Corpus) ExpectedScore(tc QueryTestCase) float64 {
	for _, img := range c.Images {
		if img.Name == tc.Expected {
			return cosine(img.Vector, tc.Vector)
		}
	}
	return math.NaN()
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
