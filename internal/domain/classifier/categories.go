// Пакет classifier — автокатегоризация новостей и управление дообучением:
// периодический поиск неразмеченных новостей, присвоение категорий батч-
// предиктором и гейт «одно обучение на каталог модели».
package classifier

// Известные категории новостей. Метка предиктора, не входящая в набор,
// логируется и пропускается.
var Categories = []string{
	"Международные отношения",
	"Культура",
	"Наука и технологии",
	"Общество",
	"Экономика",
	"Происшествия",
	"Спорт",
	"Здоровье",
}

var categorySet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		set[c] = struct{}{}
	}
	return set
}()

// IsValidCategory сообщает, входит ли метка в известный набор категорий.
func IsValidCategory(label string) bool {
	_, ok := categorySet[label]
	return ok
}
