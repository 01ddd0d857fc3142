package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	appfs "github.com/trezcool/cadenza/fs"
)

func TestCheckPassword(t *testing.T) {
	commonPasswords = loadCommonPasswords(appfs.FS)

	tests := []struct {
		name  string
		pwd   string
		attrs []string
		want  string
	}{
		{name: "too short", pwd: "Ab1!", want: pwdMinLenTag},
		{name: "whitespace", pwd: "Abcd 1234!", want: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", want: pwdNotAllNumTag},
		{name: "no upper", pwd: "abcd1234!", want: pwdComplexityTag},
		{name: "no special", pwd: "Abcd12345", want: pwdComplexityTag},
		{name: "similar to username", pwd: "Marie.Curie1", attrs: []string{"Marie Curie", "mariecurie"}, want: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd", want: pwdNoCommonTag},
		{name: "valid", pwd: "Tr0mb0ne-Sl!de", attrs: []string{"Marie Curie", "mcurie", "marie@test.cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkPassword(tt.pwd, tt.attrs...))
		})
	}
}

func TestNewUser_Validate(t *testing.T) {
	translator := core.NewTranslator()
	validate := core.NewValidate(translator)
	RegisterValidators(validate, translator)

	tests := []struct {
		name    string
		nu      NewUser
		wantErr bool
	}{
		{
			name: "valid",
			nu: NewUser{
				Name: " Clara Schumann ", Username: "CLARA", Password: "Tr0mb0ne-Sl!de", PasswordConfirm: "Tr0mb0ne-Sl!de",
				Roles: []string{RoleOffice},
			},
		},
		{
			name:    "no username nor email",
			nu:      NewUser{Name: "Clara", Password: "Tr0mb0ne-Sl!de", PasswordConfirm: "Tr0mb0ne-Sl!de"},
			wantErr: true,
		},
		{
			name:    "unknown role",
			nu:      NewUser{Name: "Clara", Username: "clara", Password: "Tr0mb0ne-Sl!de", PasswordConfirm: "Tr0mb0ne-Sl!de", Roles: []string{"student:"}},
			wantErr: true,
		},
		{
			name:    "passwords mismatch",
			nu:      NewUser{Name: "Clara", Username: "clara", Password: "Tr0mb0ne-Sl!de", PasswordConfirm: "Tr0mb0ne-Sl!de?"},
			wantErr: true,
		},
		{
			name:    "weak password",
			nu:      NewUser{Name: "Clara", Username: "clara", Password: "password", PasswordConfirm: "password"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.nu.Validate(validate)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Clara Schumann", tt.nu.Name)
			assert.Equal(t, "clara", tt.nu.Username)
		})
	}
}
