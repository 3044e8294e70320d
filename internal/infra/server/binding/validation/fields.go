package validation

import (
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"
	"github.com/go-playground/validator/v10"

	"github.com/lloydmeta/feedsync/internal/domain/feed"
)

func SetUpValidators() {
	log.Info().Msg("Setting up custom validators")
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation(FeedNameValidatorTag, FeedNameValidator)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up Feed name validator")
		}
		err = v.RegisterValidation(IdentityValidatorTag, IdentityValidator)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to set up Identity validator")
		}
	} else {
		log.Fatal().Msgf("Unexpected binding validator engine [%T]", binding.Validator.Engine())
	}
}

var FeedNameValidatorTag = "feedName"
var FeedNameValidator validator.Func = func(fl validator.FieldLevel) bool {
	feedName, ok := fl.Field().Interface().(feed.Name)
	if ok {
		if _, err := feed.NameFromString(string(feedName)); err != nil {
			return false
		}
	}
	return true
}

// Identities are passed around comma separated, so they can't hold commas or surrounding blanks
var IdentityValidatorTag = "identity"
var IdentityValidator validator.Func = func(fl validator.FieldLevel) bool {
	identity, ok := fl.Field().Interface().(feed.Identity)
	if ok {
		s := string(identity)
		return len(s) > 0 && !strings.Contains(s, ",") && strings.TrimSpace(s) == s
	}
	return true
}
