// Пакет cdm — справочник таблиц OMOP CDM, доступных для заявок.
// Выбор таблиц моделируется как множество типизированных имён (Set),
// а не позиционный массив флагов: это исключает ошибки индексации
// при изменении состава справочника.
package cdm

import (
	"fmt"
	"sort"
	"strings"
)

// TableName — типизированное имя CDM-таблицы.
type TableName string

// Таблицы OMOP CDM, известные модулю.
const (
	Person              TableName = "PERSON"
	ObservationPeriod   TableName = "OBSERVATION_PERIOD"
	Specimen            TableName = "SPECIMEN"
	Death               TableName = "DEATH"
	VisitOccurrence     TableName = "VISIT_OCCURRENCE"
	VisitDetail         TableName = "VISIT_DETAIL"
	ProcedureOccurrence TableName = "PROCEDURE_OCCURRENCE"
	DrugExposure        TableName = "DRUG_EXPOSURE"
	DeviceExposure      TableName = "DEVICE_EXPOSURE"
	ConditionOccurrence TableName = "CONDITION_OCCURRENCE"
	Measurement         TableName = "MEASUREMENT"
	Note                TableName = "NOTE"
	NoteNLP             TableName = "NOTE_NLP"
	Observation         TableName = "OBSERVATION"
	Episode             TableName = "EPISODE"
	EpisodeEvent        TableName = "EPISODE_EVENT"
	FactRelationship    TableName = "FACT_RELATIONSHIP"
	BioSignal           TableName = "BIO_SIGNAL"
	ImageOccurrence     TableName = "IMAGE_OCCURRENCE"
	ImageFeature        TableName = "IMAGE_FEATURE"
	ImagingStudy        TableName = "IMAGING_STUDY"
	ImagingSeries       TableName = "IMAGING_SERIES"
	ImagingAnnotation   TableName = "IMAGING_ANNOTATION"
	Filepath            TableName = "FILEPATH"
	ConditionEra        TableName = "CONDITION_ERA"
	DrugEra             TableName = "DRUG_ERA"
	DoseEra             TableName = "DOSE_ERA"
	Cohort              TableName = "COHORT"
	CohortDefinition    TableName = "COHORT_DEFINITION"
	Location            TableName = "LOCATION"
	CareSite            TableName = "CARE_SITE"
	Provider            TableName = "PROVIDER"
	Concept             TableName = "CONCEPT"
	Vocabulary          TableName = "VOCABULARY"
	Domain              TableName = "DOMAIN"
	ConceptClass        TableName = "CONCEPT_CLASS"
	ConceptSynonym      TableName = "CONCEPT_SYNONYM"
	ConceptRelationship TableName = "CONCEPT_RELATIONSHIP"
	Relationship        TableName = "RELATIONSHIP"
	ConceptAncestor     TableName = "CONCEPT_ANCESTOR"
	DrugStrength        TableName = "DRUG_STRENGTH"
	SourceToConceptMap  TableName = "SOURCE_TO_CONCEPT_MAP"
	Cost                TableName = "COST"
	PayerPlanPeriod     TableName = "PAYER_PLAN_PERIOD"
	CDMSource           TableName = "CDM_SOURCE"
	Metadata            TableName = "METADATA"
)

// All — полный справочник таблиц в каноническом порядке.
var All = []TableName{
	Person, ObservationPeriod, Specimen, Death, VisitOccurrence, VisitDetail,
	ProcedureOccurrence, DrugExposure, DeviceExposure, ConditionOccurrence,
	Measurement, Note, NoteNLP, Observation, Episode, EpisodeEvent,
	FactRelationship, BioSignal, ImageOccurrence, ImageFeature, ImagingStudy,
	ImagingSeries, ImagingAnnotation, Filepath, ConditionEra, DrugEra, DoseEra,
	Cohort, CohortDefinition, Location, CareSite, Provider, Concept, Vocabulary,
	Domain, ConceptClass, ConceptSynonym, ConceptRelationship, Relationship,
	ConceptAncestor, DrugStrength, SourceToConceptMap, Cost, PayerPlanPeriod,
	CDMSource, Metadata,
}

var known = func() map[TableName]struct{} {
	m := make(map[TableName]struct{}, len(All))
	for _, t := range All {
		m[t] = struct{}{}
	}
	return m
}()

// withPersonID — таблицы, содержащие колонку person_id.
// Копии таких таблиц фильтруются по субъектам когорты.
var withPersonID = map[TableName]struct{}{
	Person: {}, ObservationPeriod: {}, Specimen: {}, Death: {},
	VisitOccurrence: {}, VisitDetail: {}, ProcedureOccurrence: {},
	DrugExposure: {}, DeviceExposure: {}, ConditionOccurrence: {},
	Measurement: {}, Note: {}, Observation: {}, Episode: {}, BioSignal: {},
	ImageOccurrence: {}, ImageFeature: {}, ImagingStudy: {}, ImagingSeries: {},
	ImagingAnnotation: {}, Filepath: {}, ConditionEra: {}, DrugEra: {},
	DoseEra: {}, PayerPlanPeriod: {},
}

// bridgeable — таблицы, присутствующие в CDM-инстансе реестра
// и пригодные для копирования через foreign-data bridge.
var bridgeable = map[TableName]struct{}{
	Person: {}, ObservationPeriod: {}, Specimen: {}, Death: {},
	VisitOccurrence: {}, VisitDetail: {}, ProcedureOccurrence: {},
	DrugExposure: {}, DeviceExposure: {}, ConditionOccurrence: {},
	Measurement: {}, Note: {}, NoteNLP: {}, Observation: {},
	FactRelationship: {}, ConditionEra: {}, DrugEra: {}, DoseEra: {},
	CohortDefinition: {}, Location: {}, CareSite: {}, Provider: {},
	Concept: {}, Vocabulary: {}, Domain: {}, ConceptClass: {},
	ConceptSynonym: {}, ConceptRelationship: {}, Relationship: {},
	ConceptAncestor: {}, DrugStrength: {}, SourceToConceptMap: {}, Cost: {},
	PayerPlanPeriod: {}, CDMSource: {}, Metadata: {},
}

// Parse возвращает TableName по строке (без учёта регистра).
func Parse(s string) (TableName, error) {
	t := TableName(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := known[t]; !ok {
		return "", fmt.Errorf("неизвестная CDM-таблица: %q", s)
	}
	return t, nil
}

// HasPersonID возвращает true, если таблица содержит колонку person_id.
func HasPersonID(t TableName) bool {
	_, ok := withPersonID[t]
	return ok
}

// Bridgeable возвращает true, если таблица допущена к копированию через bridge.
func Bridgeable(t TableName) bool {
	_, ok := bridgeable[t]
	return ok
}

// SQLName возвращает имя таблицы в нижнем регистре для SQL-идентификаторов.
func (t TableName) SQLName() string {
	return strings.ToLower(string(t))
}

// Set — множество выбранных CDM-таблиц.
type Set struct {
	m map[TableName]struct{}
}

// NewSet создаёт множество из перечисленных таблиц.
func NewSet(tables ...TableName) *Set {
	s := &Set{m: make(map[TableName]struct{}, len(tables))}
	for _, t := range tables {
		s.m[t] = struct{}{}
	}
	return s
}

// ParseSet создаёт множество из строковых имён.
// Неизвестное имя — ошибка, дубликаты схлопываются.
func ParseSet(names []string) (*Set, error) {
	s := NewSet()
	for _, n := range names {
		t, err := Parse(n)
		if err != nil {
			return nil, err
		}
		s.m[t] = struct{}{}
	}
	return s, nil
}

// Contains возвращает true, если таблица входит в множество.
func (s *Set) Contains(t TableName) bool {
	if s == nil {
		return false
	}
	_, ok := s.m[t]
	return ok
}

// Len возвращает размер множества.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.m)
}

// Names возвращает имена таблиц в каноническом (отсортированном) порядке.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.m))
	for t := range s.m {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// Tables возвращает таблицы в каноническом порядке справочника All.
func (s *Set) Tables() []TableName {
	if s == nil {
		return nil
	}
	result := make([]TableName, 0, len(s.m))
	for _, t := range All {
		if _, ok := s.m[t]; ok {
			result = append(result, t)
		}
	}
	return result
}
