package classifier

import (
	"encoding/json"
	"os"
	"path/filepath"

	"feedfusion/internal/infra/logger"
)

// Файлы артефактов модели. Модель считается «присутствующей», только когда
// есть все четыре основных файла; metrics.json — побочный выход обучения.
const (
	artifactModel   = "model.pt"
	artifactVocab   = "vocab.json"
	artifactLabels  = "labels.json"
	artifactConfig  = "config.json"
	artifactMetrics = "metrics.json"
)

// ArtifactFS — доступ к каталогу артефактов модели. Абстракция нужна тестам:
// проверка присутствия модели и чтение меток не должны требовать настоящих
// файлов на диске.
type ArtifactFS interface {
	Exists(name string) bool
	ReadFile(name string) ([]byte, error)
}

// DirArtifacts — ArtifactFS поверх обычного каталога.
type DirArtifacts struct {
	Dir string
}

func (d DirArtifacts) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(d.Dir, name))
	return err == nil
}

func (d DirArtifacts) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.Dir, name))
}

// ModelPresent проверяет наличие всех обязательных артефактов.
func ModelPresent(fs ArtifactFS) bool {
	for _, name := range []string{artifactModel, artifactVocab, artifactLabels, artifactConfig} {
		if !fs.Exists(name) {
			return false
		}
	}
	return true
}

// KnownLabels читает набор меток текущей модели. Отсутствующий или
// нечитаемый labels.json трактуется как пустой набор: это приведёт к
// полному переобучению, что безопаснее пропуска меток.
func KnownLabels(fs ArtifactFS) map[string]struct{} {
	if !fs.Exists(artifactLabels) {
		return map[string]struct{}{}
	}
	raw, err := fs.ReadFile(artifactLabels)
	if err != nil {
		logger.Warnf("Classifier: read %s: %v", artifactLabels, err)
		return map[string]struct{}{}
	}
	var labels []string
	if err := json.Unmarshal(raw, &labels); err != nil {
		logger.Warnf("Classifier: parse %s: %v", artifactLabels, err)
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}
