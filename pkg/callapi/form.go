package callapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
)

// FormFile is a file part of a multipart form.
type FormFile struct {
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

// FormData is a multipart/form-data body.
type FormData struct {
	Fields url.Values
	Files  []FormFile
}

// NewFormData creates an empty form.
func NewFormData() *FormData {
	return &FormData{Fields: url.Values{}}
}

// FormDataFromValues creates a form holding values.
func FormDataFromValues(values url.Values) *FormData {
	form := NewFormData()

	for key, vals := range values {
		for _, v := range vals {
			form.Fields.Add(key, v)
		}
	}

	return form
}

// Add appends a field value.
func (f *FormData) Add(field, value string) *FormData {
	if f.Fields == nil {
		f.Fields = url.Values{}
	}

	f.Fields.Add(field, value)

	return f
}

// AddFile appends a file part read from r.
func (f *FormData) AddFile(field, filename, contentType string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	f.Files = append(f.Files, FormFile{
		Field:       field,
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	})

	return nil
}

// Encode renders the form and returns the body with its content type.
// Fields are written in key order before files.
func (f *FormData) Encode() ([]byte, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(f.Fields))
	for key := range f.Fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		for _, value := range f.Fields[key] {
			err := writer.WriteField(key, value)
			if err != nil {
				return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
			}
		}
	}

	for _, file := range f.Files {
		part, err := createFilePart(writer, file)
		if err != nil {
			return nil, "", err
		}

		_, err = part.Write(file.Content)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write file %s: %w", file.Filename, err)
		}
	}

	err := writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

func createFilePart(writer *multipart.Writer, file FormFile) (io.Writer, error) {
	if file.ContentType == "" {
		part, err := writer.CreateFormFile(file.Field, file.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create file part %s: %w", file.Filename, err)
		}

		return part, nil
	}

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename),
	}
	header["Content-Type"] = []string{file.ContentType}

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part %s: %w", file.Filename, err)
	}

	return part, nil
}

// SubmitForm posts form to endpoint. A 204 response yields a successful
// envelope with zero Data.
func SubmitForm[T any](ctx context.Context, d Dispatcher, endpoint string, form *FormData) *Envelope[T] {
	env := Post[T](ctx, d, endpoint, form)

	if env.StatusCode == http.StatusNoContent {
		var zero T

		env.Success = true
		env.Data = zero
		env.Error = ""
		env.Kind = KindNone
	}

	return env
}
