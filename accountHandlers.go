package main

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/motoshop_backend/middlewares"
	"bitbucket.org/mmdatafocus/motoshop_backend/models"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type roleRequest struct {
	Role models.UserRole `json:"role"`
}

type activeRequest struct {
	IsActive bool `json:"is_active"`
}

// memberView is a membership with its profile resolved through the loader.
type memberView struct {
	*models.ShopMembership
	Profile *models.Profile `json:"profile"`
}

func registerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewProfile
		if !bindJSON(c, &input) {
			return
		}
		profile, err := models.Register(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, profile)
	}
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		info, err := models.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		respondData(c, http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := models.Logout(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func getMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profileId, _ := utils.GetProfileIdFromContext(c.Request.Context())
		profile, err := models.GetProfile(c.Request.Context(), profileId)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, profile)
	}
}

func updateMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.ProfileUpdate
		if !bindJSON(c, &input) {
			return
		}
		profileId, _ := utils.GetProfileIdFromContext(c.Request.Context())
		profile, err := models.UpdateProfile(c.Request.Context(), profileId, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, profile)
	}
}

func myMembershipsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberships, err := models.ListMyMemberships(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, memberships)
	}
}

func listProfilesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var role *models.UserRole
		if v := c.Query("role"); v != "" {
			r := models.UserRole(v)
			role = &r
		}
		profiles, err := models.ListProfiles(c.Request.Context(), role)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, profiles)
	}
}

func setProfileRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req roleRequest
		if !bindJSON(c, &req) {
			return
		}
		profile, err := models.SetProfileRole(c.Request.Context(), c.Param("id"), req.Role)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, profile)
	}
}

func setProfileActiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activeRequest
		if !bindJSON(c, &req) {
			return
		}
		profile, err := models.ToggleActiveProfile(c.Request.Context(), c.Param("id"), req.IsActive)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, profile)
	}
}

func createShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewShop
		if !bindJSON(c, &input) {
			return
		}
		shop, err := models.CreateShop(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, shop)
	}
}

func listShopsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var name *string
		if v := c.Query("name"); v != "" {
			name = &v
		}
		shops, err := models.ListShops(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, shops)
	}
}

func getShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shop, err := models.GetShop(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, shop)
	}
}

func updateShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewShop
		if !bindJSON(c, &input) {
			return
		}
		shop, err := models.UpdateShop(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, shop)
	}
}

func listMembersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var status *models.MembershipStatus
		if v := c.Query("status"); v != "" {
			s := models.MembershipStatus(v)
			status = &s
		}
		memberships, err := models.ListMembers(ctx, c.Param("id"), status)
		if err != nil {
			respondError(c, err)
			return
		}
		ids := make([]string, 0, len(memberships))
		for _, m := range memberships {
			ids = append(ids, m.ProfileId)
		}
		profiles, errs := middlewares.GetProfiles(ctx, ids)
		views := make([]memberView, 0, len(memberships))
		for i, m := range memberships {
			v := memberView{ShopMembership: m}
			if i < len(profiles) && (len(errs) <= i || errs[i] == nil) {
				v.Profile = profiles[i]
			}
			views = append(views, v)
		}
		respondData(c, http.StatusOK, views)
	}
}

func inviteMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvitation
		if !bindJSON(c, &input) {
			return
		}
		m, err := models.InviteMember(c.Request.Context(), c.Param("id"), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, m)
	}
}

func joinShopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := models.RequestToJoin(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusCreated, m)
	}
}

// membershipActionHandler runs one membership decision (accept, approve,
// reject, remove) on the membership in the path.
func membershipActionHandler(action func(ctx context.Context, id string) (*models.ShopMembership, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := action(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, m)
	}
}
