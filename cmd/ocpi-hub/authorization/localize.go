// Copyright 2024 eMobility Hub GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authorization

import (
	"strings"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// decisionTexts maps an authorization outcome to the display text rendered on
// the charge point, per supported language. English is the fallback.
var decisionTexts = map[models.Allowed]map[string]string{
	models.AllowedYes: {
		"en": "Charging authorized, welcome!",
		"de": "Ladevorgang freigegeben, willkommen!",
		"fr": "Charge autorisée, bienvenue !",
		"nl": "Laden toegestaan, welkom!",
	},
	models.AllowedBlocked: {
		"en": "Your charging token is blocked, please contact your provider.",
		"de": "Ihr Ladetoken ist gesperrt, bitte kontaktieren Sie Ihren Anbieter.",
		"fr": "Votre badge est bloqué, veuillez contacter votre fournisseur.",
		"nl": "Uw laadpas is geblokkeerd, neem contact op met uw aanbieder.",
	},
	models.AllowedExpired: {
		"en": "Your charging token has expired.",
		"de": "Ihr Ladetoken ist abgelaufen.",
		"fr": "Votre badge a expiré.",
		"nl": "Uw laadpas is verlopen.",
	},
	models.AllowedNoCredit: {
		"en": "Insufficient credit, please top up your account.",
		"de": "Guthaben nicht ausreichend, bitte laden Sie Ihr Konto auf.",
		"fr": "Crédit insuffisant, veuillez recharger votre compte.",
		"nl": "Onvoldoende saldo, waardeer uw account op.",
	},
	models.AllowedNotAllowed: {
		"en": "Charging not allowed at this charge point.",
		"de": "Laden an diesem Ladepunkt nicht erlaubt.",
		"fr": "Charge non autorisée sur ce point de charge.",
		"nl": "Laden niet toegestaan op dit laadpunt.",
	},
}

var genericFailureText = map[string]string{
	"en": "Charging cannot be authorized at this time.",
	"de": "Der Ladevorgang kann derzeit nicht freigegeben werden.",
	"fr": "La charge ne peut pas être autorisée pour le moment.",
	"nl": "Laden kan op dit moment niet worden toegestaan.",
}

// DecisionText renders the display text for an outcome. It is total: every
// outcome value produces text, unexpected ones fall back to a generic
// failure message, unknown languages fall back to English.
func DecisionText(allowed models.Allowed, language string) models.DisplayText {
	language = strings.ToLower(language)
	if language == "" {
		language = "en"
	}

	texts, ok := decisionTexts[allowed]
	if !ok {
		texts = genericFailureText
	}
	text, ok := texts[language]
	if !ok {
		language = "en"
		text = texts["en"]
	}
	return models.DisplayText{Language: language, Text: text}
}
