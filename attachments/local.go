package attachments

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/valyala/fasthttp"
)

const othersFolder = "others"

// LocalStorage writes uploads under Dir/others and serves them back as uploads/others/<name>.
type LocalStorage struct {
	Dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(filepath.Join(dir, othersFolder), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStorage{Dir: dir}, nil
}

func (s *LocalStorage) Save(ctx context.Context, file *multipart.FileHeader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := storedName(file.Filename, time.Now())
	if err := fasthttp.SaveMultipartFile(file, filepath.Join(s.Dir, othersFolder, name)); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return LocalPrefix + othersFolder + "/" + name, nil
}
