package sentiment

// Stems are matched by bidirectional prefix against stemmed tokens, so the
// entries are kept short on purpose.
var positiveStems = []string{
	"хорош", "отлич", "замечатель", "прекрас", "радост",
	"счаст", "люб", "восторг", "удовольств", "улыбк",
	"смех", "восхищ", "благодар", "удач", "успех",
	"побед", "красот", "вдохнов", "надежд", "довер",
	"добр", "преимуществ", "достиж", "соглас", "правиль",
	"здоров", "благоприят", "прият", "доволь", "позитив",
	"великолепн", "ярк", "сильн", "тепл", "забот",
	"друж", "спокойн", "гармон", "лучш", "вер",
	"значим", "весел", "жив", "мил", "рад", "умиротворён",
	"энергичн", "воодушевл", "стабильн", "оптимистичн", "настроен",
	"целую", "мяу", "спасибо", "лучше",
}

var negativeStems = []string{
	"плох", "ужас", "отврат", "груст", "печал",
	"бол", "страда", "обид", "зл", "гнев",
	"разочаров", "беспокой", "страх", "тревог", "сожал",
	"ненавис", "неудач", "провал", "проблем", "трудн",
	"несчаст", "недостат", "отказ", "пораж", "неправиль",
	"жал", "негатив", "неприят", "раздраж", "недоволь",
	"тоск", "одиноч", "нелюб", "предател", "разруш",
	"стыд", "сомнен", "униз", "холодн", "пуст",
	"больн", "завист", "скандал", "агресс", "обвин",
	"устал", "нехорош", "мерз", "гряз", "злоб",
	"паник", "хаос", "истерик", "напряж", "критик",
	"огорчен", "обремен", "ошибк", "шокир", "запутан",
	"лох", "сука", "тварь", "война", "кровь", "убий", "уби",
	"самоубийство", "ничтожеств", "наркотик",
}

var amplifierWords = []string{
	"очень", "крайне", "чрезвычайно", "невероятно", "безумно",
	"абсолютно", "полностью", "совершенно", "максимально", "исключительно",
	"ультра", "экстра", "по-настоящему", "реально", "чрезмерно",
	"всецело", "сильно", "ужасно", "страшно", "безгранично",
	"клево", "прикольно",
}

var negationWords = []string{
	"не", "нет", "ни", "никак", "никогда", "нисколько", "отнюдь",
	"никто", "ничто", "нигде", "нельзя", "нипочём", "никоим",
	"ничей", "никем", "ничего", "некому", "никудышн",
}

// Inflectional endings tried longest first; ties keep this order.
var inflectionEndings = []string{
	"ая", "ый", "ой", "ий", "ей", "ые", "ие", "ого", "его", "ому", "ему",
	"ом", "ем", "ую", "юю", "ии", "ях", "ами", "ями",
	"ть", "ти", "шь", "ет", "ут", "ют", "ат", "ят", "ешь", "ишь",
	"им", "ете", "ите", "ал", "ял", "ыл", "ил", "ла", "ло", "ли", "ся",
	"сь", "енн", "нн", "ств", "ост", "есть", "ичь", "аться", "иться",
	"ющий", "юща", "ющи", "вш", "авш", "ивш", "енно", "ива", "ыва",
}
