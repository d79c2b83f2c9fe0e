package registry

import (
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// ValidateModule checks a module definition before registration. Module ids
// are DNS-1123 labels (lowercase kebab-case), versions are strict semver.
func ValidateModule(m *binderyv1alpha1.Module) error {
	if m == nil {
		return apperrors.New(apperrors.CodeValidation, "module definition is nil")
	}

	var errs field.ErrorList
	errs = append(errs, validateID(field.NewPath("id"), m.ID)...)

	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, field.Required(field.NewPath("version"), ""))
	} else if err := semver.Validate(m.Version); err != nil {
		errs = append(errs, field.Invalid(field.NewPath("version"), m.Version, "must be a semantic version (MAJOR.MINOR.PATCH)"))
	}

	errs = append(errs, validateCapabilities(field.NewPath("requiredCapabilities"), m.RequiredCapabilities)...)
	errs = append(errs, validateCapabilities(field.NewPath("optionalCapabilities"), m.OptionalCapabilities)...)

	for i, dep := range m.DependsOn {
		errs = append(errs, validateID(field.NewPath("dependsOn").Index(i), dep)...)
	}
	for i, c := range m.Conflicts {
		p := field.NewPath("conflicts").Index(i)
		errs = append(errs, validateID(p, c)...)
		if c == m.ID {
			errs = append(errs, field.Invalid(p, c, "module cannot conflict with itself"))
		}
	}

	for dep, raw := range m.VersionConstraints {
		p := field.NewPath("versionConstraints").Key(dep)
		if !slices.Contains(m.DependsOn, dep) {
			errs = append(errs, field.Invalid(p, dep, "constraint for a module that is not a dependency"))
		}
		if err := semver.ValidateConstraint(raw); err != nil {
			errs = append(errs, field.Invalid(p, raw, "must be a semantic version constraint"))
		}
	}

	for i, s := range m.Slots {
		p := field.NewPath("slots").Index(i)
		if strings.TrimSpace(s.Slot) == "" {
			errs = append(errs, field.Required(p.Child("slot"), ""))
		}
		errs = append(errs, validateCapabilities(p.Child("requiredCapabilities"), s.RequiredCapabilities)...)
	}

	if len(errs) == 0 {
		return nil
	}
	return apperrors.WrapWithMetadata(
		apperrors.CodeValidation,
		fmt.Sprintf("invalid module %q", m.ID),
		map[string]string{"module": m.ID},
		errs.ToAggregate(),
	)
}

func validateID(p *field.Path, id string) field.ErrorList {
	if id == "" {
		return field.ErrorList{field.Required(p, "")}
	}
	var errs field.ErrorList
	for _, msg := range validation.IsDNS1123Label(id) {
		errs = append(errs, field.Invalid(p, id, msg))
	}
	return errs
}

func validateCapabilities(p *field.Path, caps []string) field.ErrorList {
	var errs field.ErrorList
	seen := make(map[string]bool, len(caps))
	for i, c := range caps {
		switch {
		case strings.TrimSpace(c) == "":
			errs = append(errs, field.Required(p.Index(i), "capability name must not be blank"))
		case c != strings.TrimSpace(c):
			errs = append(errs, field.Invalid(p.Index(i), c, "capability name must not have surrounding whitespace"))
		case seen[c]:
			errs = append(errs, field.Duplicate(p.Index(i), c))
		}
		seen[c] = true
	}
	return errs
}
