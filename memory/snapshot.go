package memory

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Daniel-Anker-Hermansen/x86rs/arch"
)

var pageName = regexp.MustCompile(`(?i)^[0-9a-f]{13}\.page$`)

// Marshal writes every allocated page as a file named by its 13 digit hex
// page number, NNNNNNNNNNNNN.page.
func (ram *Ram) Marshal(filesys CreateFS) (err error) {
	for number, page := range ram.Pages() {
		var file io.WriteCloser
		file, err = filesys.Create(fmt.Sprintf("%013x.page", number))
		if err != nil {
			return
		}
		_, err = file.Write(page[:])
		close_err := file.Close()
		if err == nil {
			err = close_err
		}
		if err != nil {
			return
		}
	}

	return
}

// Unmarshal loads pages written by Marshal. Short page files are zero
// padded; files that do not look like pages are ignored.
func (ram *Ram) Unmarshal(filesys fs.FS) (err error) {
	return fs.WalkDir(filesys, ".", func(path string, d fs.DirEntry, err_in error) (err error) {
		if err_in != nil {
			err = err_in
			return
		}
		if d.IsDir() {
			if path != "." {
				err = fs.SkipDir
			}
			return
		}
		name := d.Name()
		if !pageName.MatchString(name) {
			return
		}
		number, err := strconv.ParseUint(strings.TrimSuffix(name, filepath.Ext(name)), 16, 52)
		if err != nil {
			return
		}
		data, err := fs.ReadFile(filesys, path)
		if err != nil {
			return
		}
		if uint64(len(data)) > arch.PAGE_SIZE {
			err = &ErrRange{Base: number << arch.PAGE_SHIFT, Size: uint64(len(data)), Err: ErrTooLarge}
			return
		}
		ram.Load(number<<arch.PAGE_SHIFT, data)
		return
	})
}
