// Package schema holds the column vocabulary shared by every stage.
//
// Column names are matched verbatim against the source files, so they must
// not be translated or re-cased.
package schema

// Reading file columns
const (
	MeterID           = "№ ОДПУ"
	Address           = "Адрес объекта"
	ObjectType        = "Тип объекта"
	ReadingDate       = "Дата текущего показания"
	Consumption       = "Текущее потребление, Гкал"
	Year              = "Год"
	Month             = "Месяц"
	Latitude          = "Широта"
	Longitude         = "Долгота"
	District          = "Район"
	SimplifiedAddress = "Упрощенный адрес"
	HotWaterKind      = "Вид энерг-а ГВС"
)

// Building registry columns
const (
	Floors    = "Этажность объекта"
	Area      = "Общая площадь объекта"
	BuiltDate = "Дата постройки"
	Category  = "Категория здания"
)

// Temperature sheet columns
const (
	TemperaturePeriod = "Месяц"
	Temperature       = "Температура"
)

// Derived columns appended on export
const (
	HotWaterITP         = "ГВС ИТП да/нет"
	ConsumptionPeriod   = "Период потребления"
	ZeroInHeatingSeason = "Аномалия_нулевое_потребление_в_ОП"
	RepeatType1         = "Аномалия_повтор_тип_1"
	RepeatType2         = "Аномалия_повтор_тип_2"
	RepeatType3         = "Аномалия_повтор_тип_3"
	Deviation           = "Отклонение от среднего в %"
	DeviationClass      = "Аномалия_отклонение"
	Subdivision         = "Подразделение"
)

const (
	// HotWaterITPMarker is the substring of HotWaterKind that marks supply via a heat point.
	HotWaterITPMarker = "ГВС-ИТП"

	// UnknownAddress fills an empty simplified address.
	UnknownAddress = "Неизвестный адрес"

	// SummaryAddress labels the synthetic mean row of a deviation table.
	SummaryAddress = "Average"

	Yes   = "да"
	No    = "нет"
	True  = "True"
	False = "False"
)

// DefaultHeatingMonths are the months in which zero consumption is anomalous.
var DefaultHeatingMonths = []int{10, 11, 12, 1, 2, 3, 4}

// ReadingRequired lists the columns without which a readings file is rejected.
var ReadingRequired = []string{MeterID, Address, ReadingDate, Consumption}

// TemperatureRequired lists the columns a temperature sheet must carry.
var TemperatureRequired = []string{TemperaturePeriod, Temperature}
