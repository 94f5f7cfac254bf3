// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package document

import (
	"path"
	"path/filepath"
	"strings"
)

// Directory names under a data source root.
const (
	PDFDirName    = "pdfs"
	ParsedDirName = "parsed"
)

// Layout resolves on-disk locations for one data source: originals under
// pdfs/<agency>/<year>/, parsed artifacts under parsed/<agency>/<year>/<stem>/.
// Document filepaths and parsed folders are stored relative to the source
// root so the mount point can move between runs.
type Layout struct {
	root string
}

// NewLayout builds a layout rooted at the source's data directory,
// typically DATA_MOUNT_PATH/<source>.
func NewLayout(root string) Layout {
	return Layout{root: root}
}

// Root returns the source data directory.
func (l Layout) Root() string {
	return l.root
}

// PDFRoot returns the directory holding the downloaded originals.
func (l Layout) PDFRoot() string {
	return filepath.Join(l.root, PDFDirName)
}

// Abs resolves a root-relative path to an absolute one.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// ParsedFolderRel returns the parsed-artifact folder for a document,
// relative to the source root. It mirrors the pdfs/<agency>/<year>/
// hierarchy of the document's filepath, falling back to the document's
// organization and year when the filepath does not follow it.
func (l Layout) ParsedFolderRel(d *Document) string {
	parts := strings.Split(path.Clean(filepath.ToSlash(d.Filepath)), "/")
	if len(parts) >= 4 && parts[0] == PDFDirName {
		return path.Join(ParsedDirName, parts[1], parts[2], d.Stem())
	}
	agency := d.Organization
	if agency == "" {
		agency = "unknown"
	}
	year := d.PublishedYear
	if year == "" {
		year = "unknown"
	}
	return path.Join(ParsedDirName, agency, year, d.Stem())
}

// ParsedFolder resolves the absolute parsed folder for a document,
// preferring the folder recorded at parse time.
func (l Layout) ParsedFolder(d *Document) string {
	if d.ParsedFolder != "" {
		return l.Abs(d.ParsedFolder)
	}
	return l.Abs(l.ParsedFolderRel(d))
}
