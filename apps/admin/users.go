package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/cadenza/core/user"
)

func (cli *commandLine) addUserCmd() *cobra.Command {
	var (
		nu      user.NewUser
		isOwner bool
	)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a staff user; the password is prompted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			if isOwner {
				nu.Roles = []string{user.RoleAdminOwner}
			}
			if nu.Password, err = cli.promptPassword(cmd, "Enter password:"); err != nil {
				return err
			}
			nu.PasswordConfirm = nu.Password

			if err = nu.Validate(svcs.Validate); err != nil {
				return describeError(err, svcs.Translator)
			}
			usr, err := svcs.Users.Create(cmd.Context(), nu)
			if err != nil {
				return describeError(errors.Wrap(err, "creating user"), svcs.Translator)
			}
			cmd.Printf("created user %q (%s)\n", usr.Username, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&nu.Name, "name", "", "full name")
	cmd.Flags().StringVar(&nu.Username, "username", "", "username")
	cmd.Flags().StringVar(&nu.Email, "email", "", "email address")
	cmd.Flags().StringSliceVar(&nu.Roles, "role", nil, "role, repeatable (admin:, office:, teacher:)")
	cmd.Flags().BoolVar(&isOwner, "owner", false, "make the user a school owner, with every right")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password; the new password is prompted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			usr, err := svcs.Users.GetByUsernameOrEmail(cmd.Context(), uname)
			if err != nil {
				return errors.Wrapf(err, "finding %q", uname)
			}
			pwd, err := cli.promptPassword(cmd, "Enter new password:")
			if err != nil {
				return err
			}

			uu := user.UpdateUser{Password: pwd, PasswordConfirm: pwd}
			if err = uu.Validate(usr, svcs.Validate); err != nil {
				return describeError(err, svcs.Translator)
			}
			if _, err = svcs.Users.Update(cmd.Context(), usr, uu); err != nil {
				return errors.Wrap(err, "updating password")
			}
			cmd.Printf("password of %q updated\n", usr.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "the user's username or email")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
