package dashboard

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Messages shown to the operator when a backend call fails.
const (
	MsgListPatients   = "Impossible de charger la liste des patients."
	MsgPatientDetail  = "Impossible de charger les détails du patient"
	MsgPatientMissing = "Détails du patient non trouvés"
	MsgPatientData    = "Impossible de charger les données du patient ou ses analyses."
	MsgRefreshResults = "Impossible de rafraîchir les données des analyses."
	MsgCreatePatient  = "Erreur lors de l'ajout du patient."
	MsgUpdatePatient  = "Erreur lors de la mise à jour du patient."
	MsgDeletePatient  = "Erreur lors de la suppression du patient."
	MsgAnalyse        = "Erreur lors de l'analyse du frottis."
	MsgAnalyseInput   = "Veuillez sélectionner un patient et une image."
	MsgNoResponse     = "Aucune réponse du serveur. Vérifiez votre connexion."
	MsgExport         = "Erreur lors de l'export des analyses."
)

// ErrMissingInput rejects an analyse submission without patient or image.
var ErrMissingInput = errors.New("patient id and image are required")

// UserError pairs a localized message with the failure behind it.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

func userError(msg string, err error) error {
	return &UserError{Message: msg, Err: err}
}

// UserMessage returns the localized message carried by err, or fallback.
func UserMessage(err error, fallback string) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return fallback
}

// ValidationError lists the rejected form fields with their messages. The
// form is never sent to the backend when one is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

var fieldMessages = map[string]string{
	"nom.required":  "Le nom est requis",
	"nom.min":       "Le nom est requis",
	"sexe.required": "Le sexe est requis",
	"sexe.oneof":    "Le sexe doit être Masculin ou Feminin",
	"age.required":  "L'âge est requis",
	"age.gt":        "L'âge doit être positif",
	"age.integer":   "L'âge doit être un nombre entier",
	"email.email":   "Email invalide",
}

func fieldMessage(field, tag string) string {
	if msg, ok := fieldMessages[field+"."+tag]; ok {
		return msg
	}
	return "Valeur invalide"
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe.Field(), fe.Tag())
	}
	return ValidationError{Fields: fields}
}
