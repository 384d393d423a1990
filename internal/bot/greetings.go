package bot

import "math/rand/v2"

var greetings = []string{
	"С Новым годом! Пусть он принесёт много радости, тепла и приятных сюрпризов.",
	"Пусть в новом году сбудутся все мечты, а рядом будут самые близкие люди!",
	"С наступающим! Желаю крепкого здоровья, удачи и хорошего настроения каждый день.",
	"Пусть Новый год подарит новые возможности, смелые идеи и силы для их воплощения.",
	"Желаю, чтобы в новом году было больше поводов для улыбки и меньше для грусти!",
	"Пусть бой курантов унесёт все тревоги, а новый год встретит теплом и уютом.",
	"С Новым годом! Пусть каждый месяц будет ярче предыдущего.",
	"Мира, добра и волшебства в новом году! Пусть всё задуманное получится.",
	"Пусть в новом году дома всегда пахнет мандаринами, а на душе будет праздник.",
	"С Новым годом! Больше путешествий, интересных встреч и счастливых моментов.",
}

// randomGreeting picks one greeting. pick(n) must return a value in [0, n).
func randomGreeting(pick func(n int) int) string {
	if pick == nil {
		pick = rand.IntN
	}
	return greetings[pick(len(greetings))]
}
